// Package store persists posts, the publish queue, user profiles, billing
// records and the media library.
//
// DynamoStore keeps everything in one DynamoDB table. Records owned by a user
// share the partition key USER#{userId}; sort keys distinguish the record
// type (PROFILE, POST#, MEDIA#, INVOICE#, SUB#, TOPUP#). Orders and payments
// live under ORDER#{orderId}, queue entries under QUEUE#{postId}. A single
// GSI (GSI1) serves the due-post scan, the queue listing and the gateway
// subscription lookup.
//
// MemoryStore implements the same interfaces in process for tests and the
// local CLI loop.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by update operations whose target record does not exist.
	// Get operations return (nil, nil) instead.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned by EnqueuePost when the post already has a queue entry.
	ErrDuplicate = errors.New("duplicate record")

	// ErrInsufficientCredits is returned when a deduction would take a balance below zero.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrConflict is returned by guarded writes when the record no longer
	// matches the state the caller read.
	ErrConflict = errors.New("record changed concurrently")
)

// Post platforms.
const (
	PlatformInstagram = "instagram"
	PlatformFacebook  = "facebook"
	PlatformBoth      = "both"
)

// Post statuses.
const (
	PostDraft      = "draft"
	PostScheduled  = "scheduled"
	PostPublishing = "publishing"
	PostPosted     = "posted"
	PostPartial    = "partial"
	PostFailed     = "failed"
	PostCancelled  = "cancelled"
)

// Queue entry statuses.
const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
	QueueCompleted  = "completed"
	QueueFailed     = "failed"
)

// Post is a piece of content to publish to one or both platforms.
type Post struct {
	ID           string            `json:"id" dynamodbav:"id"`
	UserID       string            `json:"userId" dynamodbav:"userId"`
	Caption      string            `json:"caption" dynamodbav:"caption"`
	Hashtags     []string          `json:"hashtags,omitempty" dynamodbav:"hashtags,omitempty"`
	MediaURL     string            `json:"mediaUrl,omitempty" dynamodbav:"mediaUrl,omitempty"`
	MediaURLs    []string          `json:"mediaUrls,omitempty" dynamodbav:"mediaUrls,omitempty"`
	Platform     string            `json:"platform" dynamodbav:"platform"`
	PageID       string            `json:"pageId,omitempty" dynamodbav:"pageId,omitempty"`
	ScheduledFor time.Time         `json:"scheduledFor" dynamodbav:"scheduledFor"`
	Status       string            `json:"status" dynamodbav:"status"`
	MetaPostIDs  map[string]string `json:"metaPostIds,omitempty" dynamodbav:"metaPostIds,omitempty"`
	MetaErrors   map[string]string `json:"metaErrors,omitempty" dynamodbav:"metaErrors,omitempty"`
	Attempts     int               `json:"attempts" dynamodbav:"attempts"`
	PublishedAt  *time.Time        `json:"publishedAt,omitempty" dynamodbav:"publishedAt,omitempty"`
	CreatedAt    time.Time         `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt" dynamodbav:"updatedAt"`
}

// Media returns the post's media in publish order. MediaURLs wins over the
// legacy single MediaURL.
func (p *Post) Media() []string {
	if len(p.MediaURLs) > 0 {
		return p.MediaURLs
	}
	if p.MediaURL != "" {
		return []string{p.MediaURL}
	}
	return nil
}

// IsCarousel reports whether the post publishes as a multi-media unit.
func (p *Post) IsCarousel() bool {
	return len(p.Media()) > 1
}

// PostUpdate carries the fields written when a publish attempt finishes.
type PostUpdate struct {
	Status      string
	MetaPostIDs map[string]string
	MetaErrors  map[string]string
	PublishedAt *time.Time
	// IncrementAttempts bumps the attempt counter.
	IncrementAttempts bool
	// IfStatus, when set, applies the update only while the post is in one
	// of these statuses. Any other status yields ErrConflict.
	IfStatus []string
}

// UnpublishedStatuses are the post statuses a publish attempt may claim.
var UnpublishedStatuses = []string{PostDraft, PostScheduled, PostFailed, PostCancelled}

func (u PostUpdate) allows(status string) bool {
	if len(u.IfStatus) == 0 {
		return true
	}
	for _, s := range u.IfStatus {
		if s == status {
			return true
		}
	}
	return false
}

// QueueEntry tracks one post through the publish queue.
type QueueEntry struct {
	PostID           string     `json:"postId" dynamodbav:"postId"`
	UserID           string     `json:"userId" dynamodbav:"userId"`
	Status           string     `json:"status" dynamodbav:"status"`
	Attempts         int        `json:"attempts" dynamodbav:"attempts"`
	LastError        string     `json:"lastError,omitempty" dynamodbav:"lastError,omitempty"`
	EnqueuedAt       time.Time  `json:"enqueuedAt" dynamodbav:"enqueuedAt"`
	StartedAt        *time.Time `json:"startedAt,omitempty" dynamodbav:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty" dynamodbav:"completedAt,omitempty"`
	ProcessingTimeMs int64      `json:"processingTimeMs,omitempty" dynamodbav:"processingTimeMs,omitempty"`
}

// QueueStats counts queue entries by status.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// InstagramAccount is an Instagram business account linked to a Page.
type InstagramAccount struct {
	ID       string `json:"id" dynamodbav:"id"`
	Username string `json:"username,omitempty" dynamodbav:"username,omitempty"`
}

// Page is a Facebook Page the user manages.
type Page struct {
	ID          string             `json:"id" dynamodbav:"id"`
	Name        string             `json:"name" dynamodbav:"name"`
	AccessToken string             `json:"-" dynamodbav:"accessToken"`
	Instagram   []InstagramAccount `json:"instagramAccounts,omitempty" dynamodbav:"instagram,omitempty"`
}

// MetaCredentials is the connected Meta account of a user.
type MetaCredentials struct {
	AccessToken string    `json:"-" dynamodbav:"accessToken"`
	UserID      string    `json:"userId" dynamodbav:"userId"`
	UserName    string    `json:"userName,omitempty" dynamodbav:"userName,omitempty"`
	Pages       []Page    `json:"pages" dynamodbav:"pages"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty" dynamodbav:"expiresAt,omitempty"`
	ConnectedAt time.Time `json:"connectedAt" dynamodbav:"connectedAt"`
}

// FindPage returns the page with the given ID, or the first page when id is empty.
func (m *MetaCredentials) FindPage(id string) (*Page, bool) {
	if m == nil || len(m.Pages) == 0 {
		return nil, false
	}
	if id == "" {
		return &m.Pages[0], true
	}
	for i := range m.Pages {
		if m.Pages[i].ID == id {
			return &m.Pages[i], true
		}
	}
	return nil, false
}

// Profile holds a user's plan, credit balances and connected accounts.
type Profile struct {
	UserID                string           `json:"userId" dynamodbav:"userId"`
	Email                 string           `json:"email,omitempty" dynamodbav:"email,omitempty"`
	Plan                  string           `json:"plan" dynamodbav:"plan"`
	SubscriptionStatus    string           `json:"subscriptionStatus" dynamodbav:"subscriptionStatus"`
	BillingCycle          string           `json:"billingCycle,omitempty" dynamodbav:"billingCycle,omitempty"`
	PostCredits           int              `json:"postCredits" dynamodbav:"postCredits"`
	EnhancementCredits    int              `json:"enhancementCredits" dynamodbav:"enhancementCredits"`
	StorageLimitMB        int              `json:"storageLimitMb" dynamodbav:"storageLimitMb"`
	SubscriptionStartDate *time.Time       `json:"subscriptionStartDate,omitempty" dynamodbav:"subscriptionStartDate,omitempty"`
	SubscriptionEndDate   *time.Time       `json:"subscriptionEndDate,omitempty" dynamodbav:"subscriptionEndDate,omitempty"`
	NextBillingDate       *time.Time       `json:"nextBillingDate,omitempty" dynamodbav:"nextBillingDate,omitempty"`
	Meta                  *MetaCredentials `json:"meta,omitempty" dynamodbav:"meta,omitempty"`
	Country               string           `json:"country,omitempty" dynamodbav:"country,omitempty"`
	State                 string           `json:"state,omitempty" dynamodbav:"state,omitempty"`
	CustomerType          string           `json:"customerType,omitempty" dynamodbav:"customerType,omitempty"`
	GSTNumber             string           `json:"gstNumber,omitempty" dynamodbav:"gstNumber,omitempty"`
	BusinessName          string           `json:"businessName,omitempty" dynamodbav:"businessName,omitempty"`
	CreatedAt             time.Time        `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt" dynamodbav:"updatedAt"`
}

// Payment order statuses.
const (
	OrderCreated = "created"
	OrderPaid    = "paid"
	OrderFailed  = "failed"
)

// TaxDetails records how tax was computed for an order.
type TaxDetails struct {
	Rate       float64 `json:"rate" dynamodbav:"rate"`
	Country    string  `json:"country" dynamodbav:"country"`
	Applicable bool    `json:"applicable" dynamodbav:"applicable"`
}

// PaymentOrder is a gateway order created before checkout.
type PaymentOrder struct {
	OrderID      string     `json:"orderId" dynamodbav:"orderId"`
	UserID       string     `json:"userId" dynamodbav:"userId"`
	PlanID       string     `json:"planId" dynamodbav:"planId"`
	BillingCycle string     `json:"billingCycle,omitempty" dynamodbav:"billingCycle,omitempty"`
	Amount       int64      `json:"amount" dynamodbav:"amount"`
	TaxAmount    int64      `json:"taxAmount" dynamodbav:"taxAmount"`
	TotalAmount  int64      `json:"totalAmount" dynamodbav:"totalAmount"`
	Currency     string     `json:"currency" dynamodbav:"currency"`
	Status       string     `json:"status" dynamodbav:"status"`
	PaymentID    string     `json:"paymentId,omitempty" dynamodbav:"paymentId,omitempty"`
	InvoiceID    string     `json:"invoiceId,omitempty" dynamodbav:"invoiceId,omitempty"`
	IsExport     bool       `json:"isExport" dynamodbav:"isExport"`
	Tax          TaxDetails `json:"taxDetails" dynamodbav:"tax"`
	CreatedAt    time.Time  `json:"createdAt" dynamodbav:"createdAt"`
	PaidAt       *time.Time `json:"paidAt,omitempty" dynamodbav:"paidAt,omitempty"`
}

// Payment is a gateway payment against an order.
type Payment struct {
	PaymentID string    `json:"paymentId" dynamodbav:"paymentId"`
	OrderID   string    `json:"orderId" dynamodbav:"orderId"`
	UserID    string    `json:"userId,omitempty" dynamodbav:"userId,omitempty"`
	Amount    int64     `json:"amount" dynamodbav:"amount"`
	Currency  string    `json:"currency" dynamodbav:"currency"`
	Status    string    `json:"status" dynamodbav:"status"`
	Method    string    `json:"method,omitempty" dynamodbav:"method,omitempty"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
}

// Subscription is a plan period for a user.
type Subscription struct {
	ID                    string    `json:"id" dynamodbav:"id"`
	UserID                string    `json:"userId" dynamodbav:"userId"`
	PlanID                string    `json:"planId" dynamodbav:"planId"`
	Status                string    `json:"status" dynamodbav:"status"`
	BillingCycle          string    `json:"billingCycle" dynamodbav:"billingCycle"`
	Amount                int64     `json:"amount" dynamodbav:"amount"`
	Currency              string    `json:"currency" dynamodbav:"currency"`
	StartDate             time.Time `json:"startDate" dynamodbav:"startDate"`
	EndDate               time.Time `json:"endDate" dynamodbav:"endDate"`
	GatewaySubscriptionID string    `json:"gatewaySubscriptionId,omitempty" dynamodbav:"gatewaySubscriptionId,omitempty"`
	UpdatedAt             time.Time `json:"updatedAt" dynamodbav:"updatedAt"`
}

// TopUp is a one-off enhancement credit purchase.
type TopUp struct {
	ID        string    `json:"id" dynamodbav:"id"`
	UserID    string    `json:"userId" dynamodbav:"userId"`
	PackageID string    `json:"packageId" dynamodbav:"packageId"`
	Credits   int       `json:"credits" dynamodbav:"credits"`
	Amount    int64     `json:"amount" dynamodbav:"amount"`
	Currency  string    `json:"currency" dynamodbav:"currency"`
	PaymentID string    `json:"paymentId" dynamodbav:"paymentId"`
	CreatedAt time.Time `json:"createdAt" dynamodbav:"createdAt"`
}

// InvoiceLine is one line on an invoice. Amounts are minor currency units.
type InvoiceLine struct {
	Name        string `json:"name" dynamodbav:"name"`
	Description string `json:"description" dynamodbav:"description"`
	Amount      int64  `json:"amount" dynamodbav:"amount"`
	Quantity    int    `json:"quantity" dynamodbav:"quantity"`
}

// Invoice is issued for every verified payment.
type Invoice struct {
	ID        string        `json:"id" dynamodbav:"id"`
	Number    string        `json:"number" dynamodbav:"number"`
	UserID    string        `json:"userId" dynamodbav:"userId"`
	OrderID   string        `json:"orderId" dynamodbav:"orderId"`
	PaymentID string        `json:"paymentId" dynamodbav:"paymentId"`
	Currency  string        `json:"currency" dynamodbav:"currency"`
	Lines     []InvoiceLine `json:"lines" dynamodbav:"lines"`
	Subtotal  int64         `json:"subtotal" dynamodbav:"subtotal"`
	TaxTotal  int64         `json:"taxTotal" dynamodbav:"taxTotal"`
	Total     int64         `json:"total" dynamodbav:"total"`
	Status    string        `json:"status" dynamodbav:"status"`
	IssuedAt  time.Time     `json:"issuedAt" dynamodbav:"issuedAt"`
}

// MediaAsset is an object in the user's media library.
type MediaAsset struct {
	ID           string     `json:"id" dynamodbav:"id"`
	UserID       string     `json:"userId" dynamodbav:"userId"`
	Key          string     `json:"key" dynamodbav:"key"`
	ThumbnailKey string     `json:"thumbnailKey,omitempty" dynamodbav:"thumbnailKey,omitempty"`
	Filename     string     `json:"filename" dynamodbav:"filename"`
	ContentType  string     `json:"contentType" dynamodbav:"contentType"`
	Size         int64      `json:"size" dynamodbav:"size"`
	Width        int        `json:"width,omitempty" dynamodbav:"width,omitempty"`
	Height       int        `json:"height,omitempty" dynamodbav:"height,omitempty"`
	CapturedAt   *time.Time `json:"capturedAt,omitempty" dynamodbav:"capturedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt" dynamodbav:"createdAt"`
}

// PostStore persists posts.
type PostStore interface {
	PutPost(ctx context.Context, post *Post) error
	// GetPost returns nil, nil when the post does not exist.
	GetPost(ctx context.Context, userID, postID string) (*Post, error)
	DeletePost(ctx context.Context, userID, postID string) error
	// ListPostsByUser returns the user's posts, newest schedule first. An empty
	// status matches every post.
	ListPostsByUser(ctx context.Context, userID, status string) ([]*Post, error)
	// ListDuePosts returns scheduled posts with ScheduledFor <= now, oldest first.
	ListDuePosts(ctx context.Context, now time.Time, limit int) ([]*Post, error)
	// ReplacePost overwrites a post only if its stored status and UpdatedAt
	// still equal prevStatus and prevUpdatedAt. Returns ErrNotFound for a
	// missing post and ErrConflict when it changed since it was read.
	ReplacePost(ctx context.Context, post *Post, prevStatus string, prevUpdatedAt time.Time) error
	// UpdatePostStatus applies a publish outcome. Returns ErrNotFound for a
	// missing post and ErrConflict when upd.IfStatus rejects the current status.
	UpdatePostStatus(ctx context.Context, userID, postID string, upd PostUpdate) error
}

// QueueStore persists the publish queue.
type QueueStore interface {
	// EnqueuePost creates a pending entry. Returns ErrDuplicate if the post is already queued.
	EnqueuePost(ctx context.Context, entry *QueueEntry) error
	// GetQueueEntry returns nil, nil when the post has no entry.
	GetQueueEntry(ctx context.Context, postID string) (*QueueEntry, error)
	PutQueueEntry(ctx context.Context, entry *QueueEntry) error
	// ListQueue returns entries with the given status, oldest enqueue first.
	ListQueue(ctx context.Context, status string, limit int) ([]*QueueEntry, error)
	QueueStats(ctx context.Context) (QueueStats, error)
}

// ProfileStore persists user profiles and credit balances.
type ProfileStore interface {
	// GetProfile returns nil, nil when the user has no profile yet.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	PutProfile(ctx context.Context, profile *Profile) error
	// DeductPostCredit atomically subtracts one post credit and returns the new balance.
	DeductPostCredit(ctx context.Context, userID string) (int, error)
	// DeductEnhancementCredit atomically subtracts one enhancement credit and returns the new balance.
	DeductEnhancementCredit(ctx context.Context, userID string) (int, error)
	// AddEnhancementCredits adds n credits and returns the new balance.
	AddEnhancementCredits(ctx context.Context, userID string, n int) (int, error)
	// SetMetaCredentials replaces (or clears, when creds is nil) the connected Meta account.
	SetMetaCredentials(ctx context.Context, userID string, creds *MetaCredentials) error
	// UserForMetaAccount returns the user a Meta account was last connected
	// to, or "" when it is unknown.
	UserForMetaAccount(ctx context.Context, metaUserID string) (string, error)
}

// BillingStore persists orders, payments, subscriptions, top-ups and invoices.
type BillingStore interface {
	PutPaymentOrder(ctx context.Context, order *PaymentOrder) error
	// GetPaymentOrder returns nil, nil when the order does not exist.
	GetPaymentOrder(ctx context.Context, orderID string) (*PaymentOrder, error)
	// MarkOrderPaid records that the gateway captured the order's payment. It
	// leaves the invoice unset, so the order still awaits fulfilment. Returns
	// ErrNotFound for a missing order.
	MarkOrderPaid(ctx context.Context, orderID, paymentID string, paidAt time.Time) error
	// FulfillOrder marks the order paid and attaches its invoice, once. Returns
	// ErrDuplicate when the order already carries an invoice and ErrNotFound
	// for a missing order.
	FulfillOrder(ctx context.Context, orderID, paymentID, invoiceID string, paidAt time.Time) error

	PutPayment(ctx context.Context, payment *Payment) error
	// UpdatePaymentStatus returns ErrNotFound when no payment with that id exists for the order.
	UpdatePaymentStatus(ctx context.Context, orderID, paymentID, status string) error

	PutSubscription(ctx context.Context, sub *Subscription) error
	// GetSubscriptionByGatewayID returns nil, nil when no subscription matches.
	GetSubscriptionByGatewayID(ctx context.Context, gatewayID string) (*Subscription, error)

	PutTopUp(ctx context.Context, topUp *TopUp) error

	PutInvoice(ctx context.Context, inv *Invoice) error
	// GetInvoice returns nil, nil when the invoice does not exist.
	GetInvoice(ctx context.Context, userID, invoiceID string) (*Invoice, error)
	ListInvoices(ctx context.Context, userID string) ([]*Invoice, error)
}

// MediaStore persists media library records.
type MediaStore interface {
	PutMediaAsset(ctx context.Context, asset *MediaAsset) error
	// GetMediaAsset returns nil, nil when the asset does not exist.
	GetMediaAsset(ctx context.Context, userID, assetID string) (*MediaAsset, error)
	ListMediaAssets(ctx context.Context, userID string) ([]*MediaAsset, error)
	DeleteMediaAsset(ctx context.Context, userID, assetID string) error
	// MediaUsageBytes sums the size of the user's assets.
	MediaUsageBytes(ctx context.Context, userID string) (int64, error)
}

// Store is the full persistence surface used by the API and scheduler.
type Store interface {
	PostStore
	QueueStore
	ProfileStore
	BillingStore
	MediaStore
}
