// Package storage defines the persistence boundary for the desk service.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a requested write conflicts with uniqueness constraints.
	ErrConflict = errors.New("record conflict")
	// ErrBusy indicates a transient lock conflict; the operation is safe to
	// retry once.
	ErrBusy = errors.New("storage is busy")
)

// IsBusy reports whether err stems from a transient storage lock. Driver
// errors keep their original text, so the check matches the sqlite busy
// message as well as the sentinel.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBusy) {
		return true
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "database is locked") || strings.Contains(text, "sqlite_busy")
}

// Action identifies one supported workflow kind for a bank.
type Action string

const (
	// ActionRegister is the new-account registration workflow.
	ActionRegister Action = "register"
	// ActionChange is the account rebinding workflow.
	ActionChange Action = "change"
)

// OrderStatus identifies one order lifecycle state.
type OrderStatus string

const (
	// OrderStatusInProgress means the order is progressing through its steps.
	OrderStatusInProgress OrderStatus = "in_progress"
	// OrderStatusCompleted means the order reached its terminal state.
	OrderStatusCompleted OrderStatus = "completed"
)

// CodeStatus tracks the delivery-code lifecycle on an order.
type CodeStatus string

const (
	// CodeStatusNone means no delivery code has been requested yet.
	CodeStatusNone CodeStatus = "none"
	// CodeStatusAwaiting means the user is waiting for an operator code.
	CodeStatusAwaiting CodeStatus = "awaiting"
	// CodeStatusDelivered means an operator code was forwarded to the user.
	CodeStatusDelivered CodeStatus = "delivered"
)

// PhotoConfirmation is the tri-state review status of an order photo.
type PhotoConfirmation string

const (
	// PhotoRejected means an operator declined the artifact.
	PhotoRejected PhotoConfirmation = "rejected"
	// PhotoPending means the artifact awaits operator review.
	PhotoPending PhotoConfirmation = "pending"
	// PhotoApproved means an operator accepted the artifact.
	PhotoApproved PhotoConfirmation = "approved"
)

// BankRecord stores one provider configuration row.
type BankRecord struct {
	Name             string
	Active           bool
	RegisterEnabled  bool
	RegisterMinAge   int
	RegisterMinPrice string
	ChangeEnabled    bool
	ChangeMinAge     int
	ChangeMinPrice   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StepRecord stores one instruction step row for a (bank, action) pair.
type StepRecord struct {
	BankName       string
	Action         Action
	Number         int
	Kind           string
	Text           string
	ExamplesJSON   string
	MinAge         int
	RequiredPhotos int
	PayloadJSON    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderRecord stores one user case row.
type OrderRecord struct {
	ID             int64
	UserID         int64
	DisplayName    string
	BankName       string
	Action         Action
	Stage          int
	Status         OrderStatus
	GroupID        int64
	Phone          string
	Email          string
	PhoneConfirmed bool
	EmailConfirmed bool
	CodeStatus     CodeStatus
	CodeAttempts   int
	CodeResends    int
	DataComplete   bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// PhotoRecord stores one artifact attached to an order at a stage.
type PhotoRecord struct {
	ID              int64
	OrderID         int64
	Stage           int
	FileID          string
	FileUniqueID    string
	Confirmation    PhotoConfirmation
	Active          bool
	RejectionReason string
	ReplacesPhotoID int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ActionLogRecord stores one append-only audit entry for an order.
type ActionLogRecord struct {
	ID          int64
	OrderID     int64
	Actor       string
	Action      string
	PayloadJSON string
	CreatedAt   time.Time
}

// GroupRecord stores one operator chat destination.
type GroupRecord struct {
	ID             int64
	ChatID         int64
	Name           string
	Busy           bool
	BankName       string
	Admin          bool
	CurrentOrderID int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// GroupOrderRecord stores one entry of a group's active-order set.
type GroupOrderRecord struct {
	GroupID int64
	OrderID int64
	Primary bool
	AddedAt time.Time
}

// UsageRecord stores one consumed (bank, phone/email) pair.
type UsageRecord struct {
	ID        int64
	OrderID   int64
	BankName  string
	Phone     string
	Email     string
	CreatedAt time.Time
}

// QueueRecord stores one order parked while waiting for a free group.
type QueueRecord struct {
	ID         int64
	OrderID    int64
	BankName   string
	EnqueuedAt time.Time
}

// FormRecord stores one generated order form blob.
type FormRecord struct {
	OrderID     int64
	FormID      string
	PayloadJSON string
	CreatedAt   time.Time
}

// BankStore persists provider configuration.
type BankStore interface {
	PutBank(ctx context.Context, record BankRecord) error
	GetBank(ctx context.Context, name string) (BankRecord, error)
	ListBanks(ctx context.Context) ([]BankRecord, error)
	DeleteBank(ctx context.Context, name string) error
}

// StepStore persists instruction step configuration.
type StepStore interface {
	UpsertStep(ctx context.Context, record StepRecord) error
	ListSteps(ctx context.Context, bankName string, action Action) ([]StepRecord, error)
	DeleteStep(ctx context.Context, bankName string, action Action, number int) error
}

// OrderStore persists order case state.
type OrderStore interface {
	CreateOrder(ctx context.Context, record OrderRecord) (int64, error)
	GetOrder(ctx context.Context, orderID int64) (OrderRecord, error)
	UpdateOrder(ctx context.Context, record OrderRecord) error
	LatestOpenOrderByUser(ctx context.Context, userID int64) (OrderRecord, error)
	LatestOpenOrderByGroup(ctx context.Context, groupID int64) (OrderRecord, error)
	ListOrders(ctx context.Context, status OrderStatus, limit int) ([]OrderRecord, error)
	CountOrdersByStatus(ctx context.Context, status OrderStatus) (int, error)
}

// PhotoStore persists order artifacts.
type PhotoStore interface {
	AddPhoto(ctx context.Context, record PhotoRecord) (int64, error)
	GetPhoto(ctx context.Context, photoID int64) (PhotoRecord, error)
	UpdatePhoto(ctx context.Context, record PhotoRecord) error
	ListStagePhotos(ctx context.Context, orderID int64, stage int) ([]PhotoRecord, error)
	SetPhotoConfirmation(ctx context.Context, orderID int64, stage int, confirmation PhotoConfirmation) error
	DeactivatePhotos(ctx context.Context, orderID int64, stage int, reason string) error
	CountActivePhotos(ctx context.Context, orderID int64, stage int) (int, error)
}

// LogStore appends immutable audit entries.
type LogStore interface {
	AppendLog(ctx context.Context, record ActionLogRecord) error
	ListLog(ctx context.Context, orderID int64) ([]ActionLogRecord, error)
}

// GroupStore persists operator group state.
type GroupStore interface {
	PutGroup(ctx context.Context, record GroupRecord) (int64, error)
	GetGroup(ctx context.Context, groupID int64) (GroupRecord, error)
	GetGroupByChat(ctx context.Context, chatID int64) (GroupRecord, error)
	ListGroups(ctx context.Context) ([]GroupRecord, error)
	DeleteGroup(ctx context.Context, groupID int64) error
	SetGroupBusy(ctx context.Context, groupID int64, busy bool) error
	SetCurrentOrder(ctx context.Context, groupID int64, orderID int64) error
	AddGroupOrder(ctx context.Context, record GroupOrderRecord) error
	RemoveGroupOrder(ctx context.Context, groupID int64, orderID int64) error
	ListGroupOrders(ctx context.Context, groupID int64) ([]GroupOrderRecord, error)
	SetPrimaryGroupOrder(ctx context.Context, groupID int64, orderID int64) error
}

// QueueStore persists the FIFO order queue.
type QueueStore interface {
	Enqueue(ctx context.Context, record QueueRecord) error
	OldestQueuedForBank(ctx context.Context, bankName string) (QueueRecord, error)
	OldestQueued(ctx context.Context) (QueueRecord, error)
	RemoveQueued(ctx context.Context, orderID int64) error
	ListQueued(ctx context.Context) ([]QueueRecord, error)
}

// UsageStore persists consumed verification data pairs.
type UsageStore interface {
	RecordUsage(ctx context.Context, record UsageRecord) error
	PhoneUsed(ctx context.Context, bankName string, phone string) (bool, error)
	EmailUsed(ctx context.Context, bankName string, email string) (bool, error)
}

// FormStore persists generated order form blobs.
type FormStore interface {
	PutForm(ctx context.Context, record FormRecord) error
	GetForm(ctx context.Context, orderID int64) (FormRecord, error)
}

// KVStore is a simple key to text store used for templates and allowlists.
// It mirrors the relational stores so callers never special-case the medium.
type KVStore interface {
	Get(key string) (string, bool)
	Set(key string, value string) error
	Delete(key string) error
	Keys() []string
}
