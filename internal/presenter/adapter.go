package presenter

import (
	"context"
	"time"

	"github.com/snapsell/backend/internal/domain"
	"github.com/snapsell/backend/internal/models"
	"github.com/snapsell/backend/internal/quota"
)

// balanceRequeryTimeout bounds the follow-up read after a debit call fails
// with the outcome unknown.
const balanceRequeryTimeout = 5 * time.Second

// Adapter drives the signed-in flows end to end: single-flight guard,
// transient retry, and snapshot bookkeeping. One Adapter per session. Screens
// observe the guard and the snapshot; the flows keep both honest.
type Adapter struct {
	ledger Ledger
	guard  *ActionGuard
	store  *BalanceStore
	retry  RetryPolicy
	watch  PaymentWatcher
}

// NewAdapter builds an adapter over ledger. The zero RetryPolicy gives the
// default three attempts.
func NewAdapter(ledger Ledger, retry RetryPolicy) *Adapter {
	return &Adapter{
		ledger: ledger,
		guard:  NewActionGuard(),
		store:  NewBalanceStore(),
		retry:  retry,
		watch:  PaymentWatcher{Ledger: ledger},
	}
}

// Guard exposes the action state machine so the UI can observe outcomes and
// Reset them once reconciled.
func (a *Adapter) Guard() *ActionGuard { return a.guard }

// Balance returns the cached snapshot, or ok=false before the first load.
func (a *Adapter) Balance() (*models.Entitlements, bool) { return a.store.Snapshot() }

// Signals derives the UI signals for action from the cached snapshot.
func (a *Adapter) Signals(action string) (Signals, bool) {
	rec, ok := a.store.Snapshot()
	if !ok {
		return Signals{}, false
	}
	return SignalsFor(action, rec), true
}

// RefreshBalance fetches the current snapshot from the server. Screens call
// this on focus instead of trusting the cache. If a mutation lands while the
// fetch is in flight, the fetched copy is discarded and the mutation's
// balances are returned instead.
func (a *Adapter) RefreshBalance(ctx context.Context) (*models.Entitlements, error) {
	token := a.store.BeginFetch()
	rec, err := a.ledger.GetEntitlements(ctx)
	if err != nil {
		return nil, err
	}
	if !a.store.CompleteFetch(token, rec) {
		cur, _ := a.store.Snapshot()
		return cur, nil
	}
	return rec, nil
}

// AnalyzePhoto runs the creation flow. On success or a blocked answer the
// snapshot takes the server's balances; on failure the guard rolls back and,
// when the outcome is unknown, the balance is re-queried rather than assumed.
// The guard stays Confirmed or RolledBack until the UI resets it.
func (a *Adapter) AnalyzePhoto(ctx context.Context, imageB64, mediaType string) (*AnalyzeResult, error) {
	if err := a.guard.Begin(models.ActionCreation); err != nil {
		return nil, err
	}

	var res *AnalyzeResult
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		r, err := a.ledger.AnalyzePhoto(ctx, imageB64, mediaType)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		a.rollbackAfterFailure(ctx, models.ActionCreation, err)
		return nil, err
	}
	return res, a.settle(models.ActionCreation, res.Entitlements, res.Decision)
}

// SaveListing runs the save flow with the same shape as AnalyzePhoto.
func (a *Adapter) SaveListing(ctx context.Context, draft models.ListingDraft) (*SaveResult, error) {
	if err := a.guard.Begin(models.ActionSave); err != nil {
		return nil, err
	}

	var res *SaveResult
	err := a.retry.Do(ctx, func(ctx context.Context) error {
		r, err := a.ledger.SaveListing(ctx, draft)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		a.rollbackAfterFailure(ctx, models.ActionSave, err)
		return nil, err
	}
	return res, a.settle(models.ActionSave, res.Entitlements, res.Decision)
}

// settle installs the server's balances and closes the guard: Confirmed when
// the action took effect, RolledBack when policy blocked it, since a blocked
// call debits nothing.
func (a *Adapter) settle(action string, rec *models.Entitlements, decision quota.Decision) error {
	a.store.ApplyMutation(rec)
	if decision == quota.Blocked {
		return a.guard.Rollback(action)
	}
	return a.guard.Confirm(action)
}

// rollbackAfterFailure closes the guard and, when the failure leaves the
// server outcome unknown, re-queries the balance instead of assuming the
// debit either happened or did not. The re-query is best effort; a stale
// snapshot is corrected on the next focus.
func (a *Adapter) rollbackAfterFailure(ctx context.Context, action string, cause error) {
	_ = a.guard.Rollback(action)

	if domain.KindOf(cause) != domain.KindTransient {
		return
	}
	requeryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), balanceRequeryTimeout)
	defer cancel()
	_, _ = a.RefreshBalance(requeryCtx)
}

// DismissNudge records the dismissal and installs the refreshed balances.
func (a *Adapter) DismissNudge(ctx context.Context) error {
	rec, err := a.ledger.DismissNudge(ctx)
	if err != nil {
		return err
	}
	a.store.ApplyMutation(rec)
	return nil
}

// StartCheckout opens a payment session for product.
func (a *Adapter) StartCheckout(ctx context.Context, product string) (*CheckoutSession, error) {
	return a.ledger.StartCheckout(ctx, product)
}

// AwaitPayment polls the payment after the checkout redirect and refreshes
// balances once the credit lands. A still-pending payment surfaces as a
// payment_pending error the shell maps to an optimistic message.
func (a *Adapter) AwaitPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	p, err := a.watch.Wait(ctx, paymentID)
	if err != nil {
		return p, err
	}
	if p != nil && p.Applied() {
		// Best effort: the credit is already on the server either way.
		_, _ = a.RefreshBalance(ctx)
	}
	return p, nil
}

// AnonymousFlow is the pre-signup taste: a local gate over the cached
// snapshot, then the server, then the cache updated from whatever the server
// answered.
type AnonymousFlow struct {
	Ledger Ledger
	Cache  *AnonCache
}

// Analyze runs the anonymous analyze. A device that already spent today's
// allowance is blocked locally without touching the network; the server
// remains authoritative for everything else.
func (f *AnonymousFlow) Analyze(ctx context.Context, imageB64, mediaType string) (*AnonymousAnalyzeResult, error) {
	if snap, spent := f.Cache.SpentToday(); spent {
		return &AnonymousAnalyzeResult{Quota: snap, Blocked: true}, nil
	}

	res, err := f.Ledger.AnalyzeAnonymously(ctx, imageB64, mediaType)
	if err != nil {
		return nil, err
	}
	f.Cache.Store(res.Quota)
	return res, nil
}

// Refresh pulls the server's counter into the cache, typically at app start.
func (f *AnonymousFlow) Refresh(ctx context.Context) (models.AnonymousQuota, error) {
	q, err := f.Ledger.AnonymousQuota(ctx)
	if err != nil {
		return models.AnonymousQuota{}, err
	}
	f.Cache.Store(q)
	return q, nil
}
