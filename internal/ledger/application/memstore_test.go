package application

import (
	"context"
	"errors"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/wyfcoding/investledger/internal/ledger/domain"
)

type memTxKey struct{}

// memData 全部表的值拷贝，事务回滚时整体还原
type memData struct {
	profiles    map[string]domain.Profile
	investments map[string]domain.Investment
	withdrawals map[string]domain.Withdrawal
	methods     map[string]domain.WithdrawalMethod
	referrals   map[string]domain.Referral
	earnings    []domain.EarningsEntry
	accruals    map[string]bool
	sagas       map[string]domain.Saga
	barriers    map[string]bool
	// 与业务写入同事务登记的事件
	outbox []domain.LedgerEvent
}

func (d memData) clone() memData {
	return memData{
		profiles:    maps.Clone(d.profiles),
		investments: maps.Clone(d.investments),
		withdrawals: maps.Clone(d.withdrawals),
		methods:     maps.Clone(d.methods),
		referrals:   maps.Clone(d.referrals),
		earnings:    append([]domain.EarningsEntry(nil), d.earnings...),
		accruals:    maps.Clone(d.accruals),
		sagas:       maps.Clone(d.sagas),
		barriers:    maps.Clone(d.barriers),
		outbox:      append([]domain.LedgerEvent(nil), d.outbox...),
	}
}

// memStore 内存存储。所有写入串行化，事务失败时还原快照，屏障语义与持久化实现一致。
type memStore struct {
	txMu sync.Mutex
	now  func() time.Time
	data memData

	failMu   sync.Mutex
	failures map[string]error

	// onApply 在余额增量生效前调用，持有存储锁，可直接修改 data
	onApply func(id string)
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		now: now,
		data: memData{
			profiles:    map[string]domain.Profile{},
			investments: map[string]domain.Investment{},
			withdrawals: map[string]domain.Withdrawal{},
			methods:     map[string]domain.WithdrawalMethod{},
			referrals:   map[string]domain.Referral{},
			accruals:    map[string]bool{},
			sagas:       map[string]domain.Saga{},
			barriers:    map[string]bool{},
		},
		failures: map[string]error{},
	}
}

func (s *memStore) Store() domain.Store {
	return domain.Store{
		Profiles:    memProfiles{s},
		Investments: memInvestments{s},
		Withdrawals: memWithdrawals{s},
		Methods:     memMethods{s},
		Referrals:   memReferrals{s},
		Earnings:    memEarnings{s},
		Accruals:    memAccruals{s},
		Sagas:       memSagas{s},
		Barrier:     memBarrier{s},
		Tx:          s,
	}
}

func (s *memStore) failOn(op string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failures[op] = err
}

func (s *memStore) clearFailures() {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failures = map[string]error{}
}

func (s *memStore) fail(op string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failures[op]
}

// enter 事务外的调用独占存储；事务内的调用已持有锁
func (s *memStore) enter(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	s.txMu.Lock()
	return s.txMu.Unlock
}

func (s *memStore) Transaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	snap := s.data.clone()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.data = snap
		return err
	}
	return nil
}

// seedProfile 直接写入账户，用于构造初始余额
func (s *memStore) seedProfile(p domain.Profile) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.data.profiles[p.ID] = p
}

func (s *memStore) profile(id string) (domain.Profile, bool) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	p, ok := s.data.profiles[id]
	return p, ok
}

func (s *memStore) investment(id string) domain.Investment {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.data.investments[id]
}

func (s *memStore) saga(gid string) domain.Saga {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return s.data.sagas[gid]
}

func (s *memStore) sagasByRef(ref string) []domain.Saga {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	var out []domain.Saga
	for _, sg := range s.data.sagas {
		if sg.Ref == ref {
			out = append(out, sg)
		}
	}
	return out
}

func (s *memStore) counts() (withdrawals, referrals, earnings, accruals int) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return len(s.data.withdrawals), len(s.data.referrals), len(s.data.earnings), len(s.data.accruals)
}

func (s *memStore) earningsOf(accountID string, typ domain.EarningType) []domain.EarningsEntry {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	var out []domain.EarningsEntry
	for _, e := range s.data.earnings {
		if e.AccountID == accountID && e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

type memProfiles struct{ s *memStore }

func (r memProfiles) Create(ctx context.Context, p *domain.Profile) error {
	defer r.s.enter(ctx)()
	for _, existing := range r.s.data.profiles {
		if existing.Username == p.Username {
			return domain.ErrDuplicate
		}
	}
	r.s.data.profiles[p.ID] = *p
	return nil
}

func (r memProfiles) Get(ctx context.Context, id string) (*domain.Profile, error) {
	defer r.s.enter(ctx)()
	p, ok := r.s.data.profiles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (r memProfiles) sorted(keep func(domain.Profile) bool) []*domain.Profile {
	var out []*domain.Profile
	for _, p := range r.s.data.profiles {
		if keep(p) {
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r memProfiles) List(ctx context.Context, limit, offset int) ([]*domain.Profile, int64, error) {
	defer r.s.enter(ctx)()
	all := r.sorted(func(domain.Profile) bool { return true })
	return page(all, limit, offset), int64(len(all)), nil
}

func (r memProfiles) ListActive(ctx context.Context, afterID string, limit int) ([]*domain.Profile, error) {
	defer r.s.enter(ctx)()
	all := r.sorted(func(p domain.Profile) bool {
		return p.Status == domain.ProfileStatusActive && p.ID > afterID
	})
	return page(all, limit, 0), nil
}

func (r memProfiles) ApplyDelta(ctx context.Context, id string, delta domain.BalanceDelta) error {
	defer r.s.enter(ctx)()
	if err := r.s.fail("profiles.apply_delta"); err != nil {
		return err
	}
	if r.s.onApply != nil {
		r.s.onApply(id)
	}
	p, ok := r.s.data.profiles[id]
	if !ok {
		return domain.ErrNotFound
	}
	if err := p.Apply(delta, r.s.now()); err != nil {
		return err
	}
	r.s.data.profiles[id] = p
	return nil
}

func (r memProfiles) SetStatus(ctx context.Context, id string, from []domain.ProfileStatus, to domain.ProfileStatus) error {
	defer r.s.enter(ctx)()
	p, ok := r.s.data.profiles[id]
	if !ok {
		return domain.ErrNotFound
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			p.UpdatedAt = r.s.now()
			r.s.data.profiles[id] = p
			return nil
		}
	}
	return domain.ErrStaleState
}

func (r memProfiles) ClearReferrer(ctx context.Context, referrerID string) ([]string, error) {
	defer r.s.enter(ctx)()
	var ids []string
	for id, p := range r.s.data.profiles {
		if p.ReferredBy == referrerID {
			p.ReferredBy = ""
			r.s.data.profiles[id] = p
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r memProfiles) Delete(ctx context.Context, id string) error {
	defer r.s.enter(ctx)()
	if _, ok := r.s.data.profiles[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.s.data.profiles, id)
	return nil
}

type memInvestments struct{ s *memStore }

func (r memInvestments) Create(ctx context.Context, inv *domain.Investment) error {
	defer r.s.enter(ctx)()
	if _, ok := r.s.data.investments[inv.ID]; ok {
		return domain.ErrDuplicate
	}
	r.s.data.investments[inv.ID] = *inv
	return nil
}

func (r memInvestments) Get(ctx context.Context, id string) (*domain.Investment, error) {
	defer r.s.enter(ctx)()
	inv, ok := r.s.data.investments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &inv, nil
}

func (r memInvestments) Transition(ctx context.Context, id string, from, to domain.InvestmentStatus, at time.Time) error {
	defer r.s.enter(ctx)()
	if err := r.s.fail("investments.transition"); err != nil {
		return err
	}
	inv, ok := r.s.data.investments[id]
	if !ok {
		return domain.ErrNotFound
	}
	if inv.Status != from {
		return domain.ErrStaleState
	}
	inv.Status = to
	if to == domain.InvestmentStatusPending {
		inv.DecidedAt = nil
	} else {
		inv.DecidedAt = &at
	}
	r.s.data.investments[id] = inv
	return nil
}

func (r memInvestments) ListPending(ctx context.Context, limit, offset int) ([]*domain.Investment, int64, error) {
	defer r.s.enter(ctx)()
	var out []*domain.Investment
	for _, inv := range r.s.data.investments {
		if inv.Status == domain.InvestmentStatusPending {
			out = append(out, &inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return page(out, limit, offset), int64(len(out)), nil
}

func (r memInvestments) ListByAccount(ctx context.Context, accountID string) ([]*domain.Investment, error) {
	defer r.s.enter(ctx)()
	var out []*domain.Investment
	for _, inv := range r.s.data.investments {
		if inv.AccountID == accountID {
			out = append(out, &inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memInvestments) DeleteByAccount(ctx context.Context, accountID string) error {
	defer r.s.enter(ctx)()
	for id, inv := range r.s.data.investments {
		if inv.AccountID == accountID {
			delete(r.s.data.investments, id)
		}
	}
	return nil
}

type memWithdrawals struct{ s *memStore }

func (r memWithdrawals) Create(ctx context.Context, w *domain.Withdrawal) error {
	defer r.s.enter(ctx)()
	if err := r.s.fail("withdrawals.create"); err != nil {
		return err
	}
	if _, ok := r.s.data.withdrawals[w.ID]; ok {
		return domain.ErrDuplicate
	}
	r.s.data.withdrawals[w.ID] = *w
	return nil
}

func (r memWithdrawals) Get(ctx context.Context, id string) (*domain.Withdrawal, error) {
	defer r.s.enter(ctx)()
	w, ok := r.s.data.withdrawals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &w, nil
}

func (r memWithdrawals) Transition(ctx context.Context, id string, from, to domain.WithdrawalStatus, at time.Time) error {
	defer r.s.enter(ctx)()
	w, ok := r.s.data.withdrawals[id]
	if !ok {
		return domain.ErrNotFound
	}
	if w.Status != from {
		return domain.ErrStaleState
	}
	w.Status = to
	w.ResolvedAt = &at
	r.s.data.withdrawals[id] = w
	return nil
}

func (r memWithdrawals) list(keep func(domain.Withdrawal) bool, desc bool) []*domain.Withdrawal {
	var out []*domain.Withdrawal
	for _, w := range r.s.data.withdrawals {
		if keep(w) {
			out = append(out, &w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if desc {
			a, b = b, a
		}
		if a.RequestedAt.Equal(b.RequestedAt) {
			return a.ID < b.ID
		}
		return a.RequestedAt.Before(b.RequestedAt)
	})
	return out
}

func (r memWithdrawals) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.Withdrawal, int64, error) {
	defer r.s.enter(ctx)()
	all := r.list(func(w domain.Withdrawal) bool { return w.AccountID == accountID }, true)
	return page(all, limit, offset), int64(len(all)), nil
}

func (r memWithdrawals) ListPending(ctx context.Context, limit, offset int) ([]*domain.Withdrawal, int64, error) {
	defer r.s.enter(ctx)()
	all := r.list(func(w domain.Withdrawal) bool { return w.Status == domain.WithdrawalStatusProcessing }, false)
	return page(all, limit, offset), int64(len(all)), nil
}

func (r memWithdrawals) DeleteProcessing(ctx context.Context, id string) error {
	defer r.s.enter(ctx)()
	w, ok := r.s.data.withdrawals[id]
	if !ok {
		return domain.ErrNotFound
	}
	if w.Status != domain.WithdrawalStatusProcessing {
		return domain.ErrStaleState
	}
	delete(r.s.data.withdrawals, id)
	return nil
}

func (r memWithdrawals) DeleteByAccount(ctx context.Context, accountID string) error {
	defer r.s.enter(ctx)()
	for id, w := range r.s.data.withdrawals {
		if w.AccountID == accountID {
			delete(r.s.data.withdrawals, id)
		}
	}
	return nil
}

type memMethods struct{ s *memStore }

func (r memMethods) Upsert(ctx context.Context, m *domain.WithdrawalMethod) error {
	defer r.s.enter(ctx)()
	next := *m
	if existing, ok := r.s.data.methods[m.AccountID]; ok {
		next.ID = existing.ID
	}
	r.s.data.methods[m.AccountID] = next
	return nil
}

func (r memMethods) GetByAccount(ctx context.Context, accountID string) (*domain.WithdrawalMethod, error) {
	defer r.s.enter(ctx)()
	m, ok := r.s.data.methods[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}

func (r memMethods) DeleteByAccount(ctx context.Context, accountID string) error {
	defer r.s.enter(ctx)()
	delete(r.s.data.methods, accountID)
	return nil
}

type memReferrals struct{ s *memStore }

func (r memReferrals) Create(ctx context.Context, ref *domain.Referral) error {
	defer r.s.enter(ctx)()
	if err := r.s.fail("referrals.create"); err != nil {
		return err
	}
	if _, ok := r.s.data.referrals[ref.ReferredID]; ok {
		return domain.ErrDuplicate
	}
	r.s.data.referrals[ref.ReferredID] = *ref
	return nil
}

func (r memReferrals) GetByReferred(ctx context.Context, referredID string) (*domain.Referral, error) {
	defer r.s.enter(ctx)()
	ref, ok := r.s.data.referrals[referredID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &ref, nil
}

func (r memReferrals) ListByReferrer(ctx context.Context, referrerID string, limit, offset int) ([]*domain.Referral, int64, error) {
	defer r.s.enter(ctx)()
	var out []*domain.Referral
	for _, ref := range r.s.data.referrals {
		if ref.ReferrerID == referrerID {
			out = append(out, &ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReferredID < out[j].ReferredID })
	return page(out, limit, offset), int64(len(out)), nil
}

func (r memReferrals) DeleteByReferred(ctx context.Context, referredID string) error {
	defer r.s.enter(ctx)()
	delete(r.s.data.referrals, referredID)
	return nil
}

type memEarnings struct{ s *memStore }

func (r memEarnings) Append(ctx context.Context, entries []*domain.EarningsEntry) error {
	defer r.s.enter(ctx)()
	if err := r.s.fail("earnings.append"); err != nil {
		return err
	}
	for _, e := range entries {
		r.s.data.earnings = append(r.s.data.earnings, *e)
	}
	return nil
}

func (r memEarnings) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]*domain.EarningsEntry, int64, error) {
	defer r.s.enter(ctx)()
	var out []*domain.EarningsEntry
	for i := len(r.s.data.earnings) - 1; i >= 0; i-- {
		e := r.s.data.earnings[i]
		if e.AccountID == accountID {
			out = append(out, &e)
		}
	}
	return page(out, limit, offset), int64(len(out)), nil
}

func (r memEarnings) DeleteByAccount(ctx context.Context, accountID string) error {
	defer r.s.enter(ctx)()
	kept := r.s.data.earnings[:0:0]
	for _, e := range r.s.data.earnings {
		if e.AccountID != accountID {
			kept = append(kept, e)
		}
	}
	r.s.data.earnings = kept
	return nil
}

type memAccruals struct{ s *memStore }

func (r memAccruals) Mark(ctx context.Context, date domain.AccrualDate, credit domain.AccrualCredit) (bool, error) {
	defer r.s.enter(ctx)()
	key := string(date) + "|" + credit.AccountID
	if r.s.data.accruals[key] {
		return false, nil
	}
	r.s.data.accruals[key] = true
	return true, nil
}

func (r memAccruals) CountByDate(ctx context.Context, date domain.AccrualDate) (int64, error) {
	defer r.s.enter(ctx)()
	var n int64
	for key := range r.s.data.accruals {
		if len(key) > len(date) && key[:len(date)] == string(date) {
			n++
		}
	}
	return n, nil
}

type memSagas struct{ s *memStore }

func (r memSagas) Create(ctx context.Context, sg *domain.Saga) error {
	defer r.s.enter(ctx)()
	if err := r.s.fail("sagas.create"); err != nil {
		return err
	}
	if _, ok := r.s.data.sagas[sg.GID]; ok {
		return domain.ErrDuplicate
	}
	r.s.data.sagas[sg.GID] = *sg
	return nil
}

func (r memSagas) Get(ctx context.Context, gid string) (*domain.Saga, error) {
	defer r.s.enter(ctx)()
	sg, ok := r.s.data.sagas[gid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &sg, nil
}

func (r memSagas) Transition(ctx context.Context, gid string, from, to domain.SagaState, lastErr string) error {
	defer r.s.enter(ctx)()
	if err := r.s.fail("sagas.transition." + string(to)); err != nil {
		return err
	}
	sg, ok := r.s.data.sagas[gid]
	if !ok {
		return domain.ErrNotFound
	}
	if sg.State != from {
		return domain.ErrStaleState
	}
	sg.State = to
	sg.LastError = lastErr
	sg.Attempts++
	sg.UpdatedAt = r.s.now()
	r.s.data.sagas[gid] = sg
	return nil
}

func (r memSagas) Touch(ctx context.Context, gid string, lastErr string) error {
	defer r.s.enter(ctx)()
	sg, ok := r.s.data.sagas[gid]
	if !ok {
		return domain.ErrNotFound
	}
	sg.LastError = lastErr
	sg.Attempts++
	sg.UpdatedAt = r.s.now()
	r.s.data.sagas[gid] = sg
	return nil
}

func (r memSagas) ListStale(ctx context.Context, states []domain.SagaState, before time.Time, limit int) ([]*domain.Saga, error) {
	defer r.s.enter(ctx)()
	var out []*domain.Saga
	for _, sg := range r.s.data.sagas {
		for _, st := range states {
			if sg.State == st && sg.UpdatedAt.Before(before) {
				out = append(out, &sg)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GID < out[j].GID })
	return page(out, limit, 0), nil
}

// memBarrier 与子事务屏障相同的判定：先插入原操作行，再插入当前行
type memBarrier struct{ s *memStore }

func (b memBarrier) Run(ctx context.Context, gid, branch string, op domain.BranchOp, fn func(txCtx context.Context) error) (bool, error) {
	if err := b.s.fail("barrier." + string(op)); err != nil {
		return false, err
	}
	executed := false
	err := b.s.Transaction(ctx, func(txCtx context.Context) error {
		key := func(o domain.BranchOp) string { return gid + "|" + branch + "|" + string(o) }
		if op == domain.BranchOpCompensate {
			origin := key(domain.BranchOpAction)
			if !b.s.data.barriers[origin] {
				b.s.data.barriers[origin] = true
				b.s.data.barriers[key(op)] = true
				return nil
			}
		}
		if b.s.data.barriers[key(op)] {
			return nil
		}
		b.s.data.barriers[key(op)] = true
		executed = true
		return fn(txCtx)
	})
	if err != nil {
		return false, err
	}
	return executed, nil
}

var errBoom = errors.New("boom")

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (a *fakeAlerter) Alert(_ context.Context, alert domain.Alert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
}

func (a *fakeAlerter) count(kind domain.AlertKind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, al := range a.alerts {
		if al.Kind == kind {
			n++
		}
	}
	return n
}

// memOutbox 事件写入存储快照，随所在事务一起回滚
type memOutbox struct{ s *memStore }

func (o memOutbox) Publish(ctx context.Context, evt domain.LedgerEvent) error {
	defer o.s.enter(ctx)()
	if err := o.s.fail("outbox.publish"); err != nil {
		return err
	}
	o.s.data.outbox = append(o.s.data.outbox, evt)
	return nil
}

func (o memOutbox) count(typ domain.LedgerEventType) int {
	o.s.txMu.Lock()
	defer o.s.txMu.Unlock()
	n := 0
	for _, e := range o.s.data.outbox {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type fakeLock struct {
	mu       sync.Mutex
	held     map[string]bool
	released int
}

func (l *fakeLock) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
		l.released++
	}, nil
}
