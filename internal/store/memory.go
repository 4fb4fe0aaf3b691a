package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same semantics as DynamoStore.
// Records are copied on the way in and out so callers never share state
// with the store.
type MemoryStore struct {
	mu sync.Mutex

	posts         map[string]Post // userID/postID
	queue         map[string]QueueEntry
	profiles      map[string]Profile
	orders        map[string]PaymentOrder
	payments      map[string]Payment // orderID/paymentID
	subscriptions map[string]Subscription
	topUps        map[string]TopUp
	invoices      map[string]Invoice // userID/invoiceID
	media         map[string]MediaAsset

	now func() time.Time
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		posts:         make(map[string]Post),
		queue:         make(map[string]QueueEntry),
		profiles:      make(map[string]Profile),
		orders:        make(map[string]PaymentOrder),
		payments:      make(map[string]Payment),
		subscriptions: make(map[string]Subscription),
		topUps:        make(map[string]TopUp),
		invoices:      make(map[string]Invoice),
		media:         make(map[string]MediaAsset),
		now:           time.Now,
	}
}

// SetClock overrides the time source used for CreatedAt/UpdatedAt stamps.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func compound(a, b string) string { return a + "/" + b }

func clonePost(p Post) *Post {
	p.Hashtags = append([]string(nil), p.Hashtags...)
	p.MediaURLs = append([]string(nil), p.MediaURLs...)
	p.MetaPostIDs = cloneMap(p.MetaPostIDs)
	p.MetaErrors = cloneMap(p.MetaErrors)
	return &p
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneProfile(p Profile) *Profile {
	if p.Meta != nil {
		meta := *p.Meta
		meta.Pages = make([]Page, len(p.Meta.Pages))
		for i, pg := range p.Meta.Pages {
			pg.Instagram = append([]InstagramAccount(nil), pg.Instagram...)
			meta.Pages[i] = pg
		}
		p.Meta = &meta
	}
	return &p
}

// --- Posts ---

func (m *MemoryStore) PutPost(_ context.Context, post *Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	post.UpdatedAt = now
	m.posts[compound(post.UserID, post.ID)] = *clonePost(*post)
	return nil
}

func (m *MemoryStore) GetPost(_ context.Context, userID, postID string) (*Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[compound(userID, postID)]
	if !ok {
		return nil, nil
	}
	return clonePost(p), nil
}

func (m *MemoryStore) DeletePost(_ context.Context, userID, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.posts, compound(userID, postID))
	return nil
}

func (m *MemoryStore) ListPostsByUser(_ context.Context, userID, status string) ([]*Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var posts []*Post
	for _, p := range m.posts {
		if p.UserID == userID {
			posts = append(posts, clonePost(p))
		}
	}
	return filterAndSortPosts(posts, status), nil
}

func (m *MemoryStore) ListDuePosts(_ context.Context, now time.Time, limit int) ([]*Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*Post
	for _, p := range m.posts {
		if p.Status == PostScheduled && !p.ScheduledFor.After(now) {
			due = append(due, clonePost(p))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryStore) ReplacePost(_ context.Context, post *Post, prevStatus string, prevUpdatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := compound(post.UserID, post.ID)
	cur, ok := m.posts[k]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != prevStatus || !cur.UpdatedAt.Equal(prevUpdatedAt) {
		return ErrConflict
	}
	post.CreatedAt = cur.CreatedAt
	post.UpdatedAt = m.now().UTC()
	m.posts[k] = *clonePost(*post)
	return nil
}

func (m *MemoryStore) UpdatePostStatus(_ context.Context, userID, postID string, upd PostUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := compound(userID, postID)
	p, ok := m.posts[k]
	if !ok {
		return ErrNotFound
	}
	if !upd.allows(p.Status) {
		return ErrConflict
	}
	post := clonePost(p)
	applyPostUpdate(post, upd)
	post.UpdatedAt = m.now().UTC()
	m.posts[k] = *post
	return nil
}

// --- Queue ---

func (m *MemoryStore) EnqueuePost(_ context.Context, entry *QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.queue[entry.PostID]; exists {
		return ErrDuplicate
	}
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = m.now().UTC()
	}
	if entry.Status == "" {
		entry.Status = QueuePending
	}
	m.queue[entry.PostID] = *entry
	return nil
}

func (m *MemoryStore) GetQueueEntry(_ context.Context, postID string) (*QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.queue[postID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MemoryStore) PutQueueEntry(_ context.Context, entry *QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue[entry.PostID] = *entry
	return nil
}

func (m *MemoryStore) ListQueue(_ context.Context, status string, limit int) ([]*QueueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*QueueEntry
	for _, e := range m.queue {
		if e.Status == status {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].PostID < out[j].PostID
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) QueueStats(_ context.Context) (QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats QueueStats
	for _, e := range m.queue {
		switch e.Status {
		case QueuePending:
			stats.Pending++
		case QueueProcessing:
			stats.Processing++
		case QueueCompleted:
			stats.Completed++
		case QueueFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// --- Profiles ---

func (m *MemoryStore) GetProfile(_ context.Context, userID string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	return cloneProfile(p), nil
}

func (m *MemoryStore) PutProfile(_ context.Context, p *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.profiles[p.UserID] = *cloneProfile(*p)
	return nil
}

func (m *MemoryStore) DeductPostCredit(_ context.Context, userID string) (int, error) {
	return m.adjustCredits(userID, func(p *Profile) (*int, int) { return &p.PostCredits, -1 })
}

func (m *MemoryStore) DeductEnhancementCredit(_ context.Context, userID string) (int, error) {
	return m.adjustCredits(userID, func(p *Profile) (*int, int) { return &p.EnhancementCredits, -1 })
}

func (m *MemoryStore) AddEnhancementCredits(_ context.Context, userID string, n int) (int, error) {
	return m.adjustCredits(userID, func(p *Profile) (*int, int) { return &p.EnhancementCredits, n })
}

func (m *MemoryStore) adjustCredits(userID string, field func(*Profile) (*int, int)) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	ptr, delta := field(&p)
	if !ok {
		if delta < 0 {
			return 0, ErrInsufficientCredits
		}
		return 0, ErrNotFound
	}
	if *ptr+delta < 0 {
		return 0, ErrInsufficientCredits
	}
	*ptr += delta
	p.UpdatedAt = m.now().UTC()
	m.profiles[userID] = p
	return *ptr, nil
}

func (m *MemoryStore) SetMetaCredentials(_ context.Context, userID string, creds *MetaCredentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return ErrNotFound
	}
	if creds == nil {
		p.Meta = nil
	} else {
		c := *creds
		p.Meta = &c
	}
	p.UpdatedAt = m.now().UTC()
	m.profiles[userID] = *cloneProfile(p)
	return nil
}

func (m *MemoryStore) UserForMetaAccount(_ context.Context, metaUserID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uid, p := range m.profiles {
		if p.Meta != nil && p.Meta.UserID == metaUserID {
			return uid, nil
		}
	}
	return "", nil
}

// --- Billing ---

func (m *MemoryStore) PutPaymentOrder(_ context.Context, o *PaymentOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.now().UTC()
	}
	m.orders[o.OrderID] = *o
	return nil
}

func (m *MemoryStore) GetPaymentOrder(_ context.Context, orderID string) (*PaymentOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *MemoryStore) MarkOrderPaid(_ context.Context, orderID, paymentID string, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.InvoiceID != "" {
		return nil
	}
	o.Status = OrderPaid
	o.PaymentID = paymentID
	at := paidAt.UTC()
	o.PaidAt = &at
	m.orders[orderID] = o
	return nil
}

func (m *MemoryStore) FulfillOrder(_ context.Context, orderID, paymentID, invoiceID string, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if o.InvoiceID != "" {
		return ErrDuplicate
	}
	o.Status = OrderPaid
	o.PaymentID = paymentID
	o.InvoiceID = invoiceID
	at := paidAt.UTC()
	o.PaidAt = &at
	m.orders[orderID] = o
	return nil
}

func (m *MemoryStore) PutPayment(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.payments[compound(p.OrderID, p.PaymentID)] = *p
	return nil
}

func (m *MemoryStore) UpdatePaymentStatus(_ context.Context, orderID, paymentID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := compound(orderID, paymentID)
	p, ok := m.payments[k]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = m.now().UTC()
	m.payments[k] = p
	return nil
}

// Payment returns a stored payment; intended for tests and the CLI.
func (m *MemoryStore) Payment(orderID, paymentID string) (*Payment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[compound(orderID, paymentID)]
	return &p, ok
}

func (m *MemoryStore) PutSubscription(_ context.Context, s *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.UpdatedAt = m.now().UTC()
	m.subscriptions[compound(s.UserID, s.ID)] = *s
	return nil
}

func (m *MemoryStore) GetSubscriptionByGatewayID(_ context.Context, gatewayID string) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subscriptions {
		if s.GatewaySubscriptionID == gatewayID {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

// Subscriptions returns the user's subscriptions; intended for tests and the CLI.
func (m *MemoryStore) Subscriptions(userID string) []Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Subscription
	for _, s := range m.subscriptions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

func (m *MemoryStore) PutTopUp(_ context.Context, t *TopUp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.now().UTC()
	}
	m.topUps[compound(t.UserID, t.ID)] = *t
	return nil
}

// TopUps returns the user's top-ups; intended for tests and the CLI.
func (m *MemoryStore) TopUps(userID string) []TopUp {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TopUp
	for _, t := range m.topUps {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

func (m *MemoryStore) PutInvoice(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *inv
	c.Lines = append([]InvoiceLine(nil), inv.Lines...)
	m.invoices[compound(inv.UserID, inv.ID)] = c
	return nil
}

func (m *MemoryStore) GetInvoice(_ context.Context, userID, invoiceID string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[compound(userID, invoiceID)]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (m *MemoryStore) ListInvoices(_ context.Context, userID string) ([]*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Invoice
	for _, inv := range m.invoices {
		if inv.UserID == userID {
			inv := inv
			out = append(out, &inv)
		}
	}
	sortInvoices(out)
	return out, nil
}

// --- Media ---

func (m *MemoryStore) PutMediaAsset(_ context.Context, a *MediaAsset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = m.now().UTC()
	}
	m.media[compound(a.UserID, a.ID)] = *a
	return nil
}

func (m *MemoryStore) GetMediaAsset(_ context.Context, userID, assetID string) (*MediaAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.media[compound(userID, assetID)]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (m *MemoryStore) ListMediaAssets(_ context.Context, userID string) ([]*MediaAsset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*MediaAsset
	for _, a := range m.media {
		if a.UserID == userID {
			a := a
			out = append(out, &a)
		}
	}
	sortAssets(out)
	return out, nil
}

func (m *MemoryStore) DeleteMediaAsset(_ context.Context, userID, assetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.media, compound(userID, assetID))
	return nil
}

func (m *MemoryStore) MediaUsageBytes(ctx context.Context, userID string) (int64, error) {
	assets, err := m.ListMediaAssets(ctx, userID)
	if err != nil {
		return 0, err
	}
	return sumSizes(assets), nil
}
