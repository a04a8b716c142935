package firestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/bazario/commerce-core/internal/domain"
	pfirestore "github.com/bazario/commerce-core/internal/platform/firestore"
	"github.com/bazario/commerce-core/internal/repositories"
)

const (
	couponsCollection     = "coupons"
	couponCodesCollection = "couponCodes"
)

type couponUsageLimitDocument struct {
	Total   *int64 `firestore:"total,omitempty"`
	PerUser *int64 `firestore:"perUser,omitempty"`
	PerDay  *int64 `firestore:"perDay,omitempty"`
}

type couponScopeDocument struct {
	Stores       []string `firestore:"stores,omitempty"`
	Categories   []string `firestore:"categories,omitempty"`
	Products     []string `firestore:"products,omitempty"`
	UserTiers    []string `firestore:"userTiers,omitempty"`
	NewUsersOnly bool     `firestore:"newUsersOnly"`
}

type couponUsageRecordDocument struct {
	UserID         string    `firestore:"userId"`
	OrderID        string    `firestore:"orderId"`
	DiscountAmount int64     `firestore:"discountAmount"`
	UsedAt         time.Time `firestore:"usedAt"`
}

type couponDocument struct {
	Code              string                      `firestore:"code"`
	Description       string                      `firestore:"description"`
	Type              string                      `firestore:"type"`
	DiscountValue     int64                       `firestore:"discountValue"`
	MinPurchaseAmount int64                       `firestore:"minPurchaseAmount"`
	MaxDiscountAmount *int64                      `firestore:"maxDiscountAmount,omitempty"`
	UsageLimit        couponUsageLimitDocument    `firestore:"usageLimit"`
	UsedCount         int64                       `firestore:"usedCount"`
	UsageHistory      []couponUsageRecordDocument `firestore:"usageHistory"`
	ValidFrom         time.Time                   `firestore:"validFrom"`
	ValidUntil        time.Time                   `firestore:"validUntil"`
	AppliesTo         couponScopeDocument         `firestore:"appliesTo"`
	IsActive          bool                        `firestore:"isActive"`
	CreatedBy         string                      `firestore:"createdBy"`
	CreatedAt         time.Time                   `firestore:"createdAt"`
	UpdatedAt         time.Time                   `firestore:"updatedAt"`
}

// couponCodeDocument maps a normalised code to its coupon. Creating it inside
// the insert transaction is what enforces code uniqueness.
type couponCodeDocument struct {
	CouponID  string    `firestore:"couponId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// CouponRepository implements repositories.CouponRepository backed by Firestore.
type CouponRepository struct {
	provider *pfirestore.Provider
	coupons  *pfirestore.BaseRepository[couponDocument]
	codes    *pfirestore.BaseRepository[couponCodeDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{
		provider: provider,
		coupons:  pfirestore.NewBaseRepository[couponDocument](provider, couponsCollection, nil),
		codes:    pfirestore.NewBaseRepository[couponCodeDocument](provider, couponCodesCollection, nil),
	}, nil
}

// Insert stores a new coupon and claims its code in the same transaction.
func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	if r == nil || r.provider == nil {
		return errors.New("coupon repository not initialised")
	}
	couponID := strings.TrimSpace(coupon.ID)
	code := strings.TrimSpace(coupon.Code)
	if couponID == "" || code == "" {
		return repositories.NewCouponError(repositories.CouponErrorInvalidInput, "coupon id and code are required", nil)
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		codeRef, err := r.codes.DocumentRef(ctx, code)
		if err != nil {
			return err
		}
		couponRef, err := r.coupons.DocumentRef(ctx, couponID)
		if err != nil {
			return err
		}
		if err := tx.Create(codeRef, couponCodeDocument{CouponID: couponID, CreatedAt: coupon.CreatedAt}); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewCouponError(repositories.CouponErrorDuplicateCode, fmt.Sprintf("coupon code %s already exists", code), err)
			}
			return err
		}
		return tx.Create(couponRef, encodeCouponDocument(coupon))
	})
	if err != nil {
		var couponErr *repositories.CouponError
		if errors.As(err, &couponErr) {
			return couponErr
		}
		return pfirestore.WrapError("coupons.insert", err)
	}
	return nil
}

// Update rewrites the rule fields while preserving the stored ledger state.
func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon) (err error) {
	if r == nil || r.provider == nil {
		return errors.New("coupon repository not initialised")
	}
	couponID := strings.TrimSpace(coupon.ID)
	if couponID == "" {
		return repositories.NewCouponError(repositories.CouponErrorInvalidInput, "coupon id is required", nil)
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.coupons.DocumentRef(ctx, couponID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var stored couponDocument
		if err := snapshot.DataTo(&stored); err != nil {
			return fmt.Errorf("firestore coupons decode %s: %w", couponID, err)
		}

		doc := encodeCouponDocument(coupon)
		doc.Code = stored.Code
		doc.UsedCount = stored.UsedCount
		doc.UsageHistory = stored.UsageHistory
		doc.CreatedBy = stored.CreatedBy
		doc.CreatedAt = stored.CreatedAt
		return tx.Set(ref, doc)
	})
	if err != nil {
		return pfirestore.WrapError("coupons.update", err)
	}
	return nil
}

// Delete removes a coupon and releases its code. Coupons with recorded
// redemptions keep their ledger and cannot be deleted.
func (r *CouponRepository) Delete(ctx context.Context, couponID string) error {
	if r == nil || r.provider == nil {
		return errors.New("coupon repository not initialised")
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return repositories.NewCouponError(repositories.CouponErrorInvalidInput, "coupon id is required", nil)
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.coupons.DocumentRef(ctx, couponID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var stored couponDocument
		if err := snapshot.DataTo(&stored); err != nil {
			return fmt.Errorf("firestore coupons decode %s: %w", couponID, err)
		}
		if stored.UsedCount > 0 {
			return repositories.NewCouponError(repositories.CouponErrorInUse, fmt.Sprintf("coupon %s has %d recorded redemptions", couponID, stored.UsedCount), nil)
		}

		if code := strings.TrimSpace(stored.Code); code != "" {
			codeRef, err := r.codes.DocumentRef(ctx, code)
			if err != nil {
				return err
			}
			if err := tx.Delete(codeRef); err != nil {
				return err
			}
		}
		return tx.Delete(ref)
	})
	if err != nil {
		var couponErr *repositories.CouponError
		if errors.As(err, &couponErr) {
			return couponErr
		}
		return pfirestore.WrapError("coupons.delete", err)
	}
	return nil
}

// FindByID fetches a single coupon.
func (r *CouponRepository) FindByID(ctx context.Context, couponID string) (domain.Coupon, error) {
	if r == nil || r.coupons == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorInvalidInput, "coupon id is required", nil)
	}
	doc, err := r.coupons.Get(ctx, couponID)
	if err != nil {
		return domain.Coupon{}, err
	}
	return decodeCouponDocument(doc.ID, doc.Data), nil
}

// FindByCode resolves the code index and loads the coupon it points at.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if r == nil || r.codes == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorInvalidInput, "coupon code is required", nil)
	}
	index, err := r.codes.Get(ctx, code)
	if err != nil {
		return domain.Coupon{}, err
	}
	return r.FindByID(ctx, index.Data.CouponID)
}

// List returns coupons ordered by creation time, newest first.
func (r *CouponRepository) List(ctx context.Context, filter repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	if r == nil || r.coupons == nil {
		return domain.CursorPage[domain.Coupon]{}, errors.New("coupon repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.Coupon]{}, fmt.Errorf("coupon repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	docs, err := r.coupons.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("isActive", "==", true)
		}
		if filter.Type != nil {
			q = q.Where("type", "==", string(*filter.Type))
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.Coupon, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeCouponDocument(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.Coupon]{Items: items, NextPageToken: nextToken}, nil
}

// Redeem re-checks the usage limits against the stored document and applies
// the counter increment plus history append as one transactional write.
func (r *CouponRepository) Redeem(ctx context.Context, cmd repositories.RedeemCommand) (domain.Coupon, error) {
	if r == nil || r.provider == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	code := strings.TrimSpace(cmd.Code)
	if code == "" {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorInvalidInput, "coupon code is required", nil)
	}

	var redeemed domain.Coupon
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		codeRef, err := r.codes.DocumentRef(ctx, code)
		if err != nil {
			return err
		}
		indexSnap, err := tx.Get(codeRef)
		if err != nil {
			return err
		}
		var index couponCodeDocument
		if err := indexSnap.DataTo(&index); err != nil {
			return fmt.Errorf("firestore couponCodes decode %s: %w", code, err)
		}

		ref, err := r.coupons.DocumentRef(ctx, index.CouponID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc couponDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore coupons decode %s: %w", index.CouponID, err)
		}

		coupon := decodeCouponDocument(snapshot.Ref.ID, doc)
		if limit := coupon.UsageLimit.Total; limit != nil && coupon.UsedCount >= *limit {
			return repositories.NewCouponError(repositories.CouponErrorLimitReached, fmt.Sprintf("coupon %s reached its usage limit", code), nil)
		}
		if limit := coupon.UsageLimit.PerUser; limit != nil && coupon.UsageCountForUser(cmd.UserID) >= *limit {
			return repositories.NewCouponError(repositories.CouponErrorLimitReached, fmt.Sprintf("coupon %s reached its per-user limit for %s", code, cmd.UserID), nil)
		}
		if limit := coupon.UsageLimit.PerDay; limit != nil && coupon.UsageCountForDay(cmd.UsedAt) >= *limit {
			return repositories.NewCouponError(repositories.CouponErrorLimitReached, fmt.Sprintf("coupon %s reached its daily limit", code), nil)
		}

		doc.UsedCount++
		doc.UsageHistory = append(doc.UsageHistory, couponUsageRecordDocument{
			UserID:         cmd.UserID,
			OrderID:        cmd.OrderID,
			DiscountAmount: cmd.DiscountAmount,
			UsedAt:         cmd.UsedAt.UTC(),
		})
		doc.UpdatedAt = cmd.UsedAt.UTC()

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		redeemed = decodeCouponDocument(snapshot.Ref.ID, doc)
		return nil
	})
	if err != nil {
		var couponErr *repositories.CouponError
		if errors.As(err, &couponErr) {
			return domain.Coupon{}, couponErr
		}
		return domain.Coupon{}, pfirestore.WrapError("coupons.redeem", err)
	}
	return redeemed, nil
}

// ResetUsage clears the counter and history in one write.
func (r *CouponRepository) ResetUsage(ctx context.Context, couponID string, at time.Time) (domain.Coupon, error) {
	return r.mutate(ctx, "coupons.reset_usage", couponID, func(doc *couponDocument) {
		doc.UsedCount = 0
		doc.UsageHistory = nil
		doc.UpdatedAt = at.UTC()
	})
}

// SetActive flips the activation flag.
func (r *CouponRepository) SetActive(ctx context.Context, couponID string, active bool, at time.Time) (domain.Coupon, error) {
	return r.mutate(ctx, "coupons.set_active", couponID, func(doc *couponDocument) {
		doc.IsActive = active
		doc.UpdatedAt = at.UTC()
	})
}

func (r *CouponRepository) mutate(ctx context.Context, op string, couponID string, apply func(*couponDocument)) (domain.Coupon, error) {
	if r == nil || r.provider == nil {
		return domain.Coupon{}, errors.New("coupon repository not initialised")
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorInvalidInput, "coupon id is required", nil)
	}

	var mutated domain.Coupon
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.coupons.DocumentRef(ctx, couponID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc couponDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore coupons decode %s: %w", couponID, err)
		}
		apply(&doc)
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		mutated = decodeCouponDocument(snapshot.Ref.ID, doc)
		return nil
	})
	if err != nil {
		return domain.Coupon{}, pfirestore.WrapError(op, err)
	}
	return mutated, nil
}

func encodeCouponDocument(coupon domain.Coupon) couponDocument {
	records := make([]couponUsageRecordDocument, 0, len(coupon.UsageHistory))
	for _, record := range coupon.UsageHistory {
		records = append(records, couponUsageRecordDocument{
			UserID:         record.UserID,
			OrderID:        record.OrderID,
			DiscountAmount: record.DiscountAmount,
			UsedAt:         record.UsedAt.UTC(),
		})
	}
	return couponDocument{
		Code:              coupon.Code,
		Description:       coupon.Description,
		Type:              string(coupon.Type),
		DiscountValue:     coupon.DiscountValue,
		MinPurchaseAmount: coupon.MinPurchaseAmount,
		MaxDiscountAmount: coupon.MaxDiscountAmount,
		UsageLimit: couponUsageLimitDocument{
			Total:   coupon.UsageLimit.Total,
			PerUser: coupon.UsageLimit.PerUser,
			PerDay:  coupon.UsageLimit.PerDay,
		},
		UsedCount:    coupon.UsedCount,
		UsageHistory: records,
		ValidFrom:    coupon.ValidFrom.UTC(),
		ValidUntil:   coupon.ValidUntil.UTC(),
		AppliesTo: couponScopeDocument{
			Stores:       coupon.AppliesTo.Stores,
			Categories:   coupon.AppliesTo.Categories,
			Products:     coupon.AppliesTo.Products,
			UserTiers:    coupon.AppliesTo.UserTiers,
			NewUsersOnly: coupon.AppliesTo.NewUsersOnly,
		},
		IsActive:  coupon.IsActive,
		CreatedBy: coupon.CreatedBy,
		CreatedAt: coupon.CreatedAt.UTC(),
		UpdatedAt: coupon.UpdatedAt.UTC(),
	}
}

func decodeCouponDocument(id string, doc couponDocument) domain.Coupon {
	records := make([]domain.UsageRecord, 0, len(doc.UsageHistory))
	for _, record := range doc.UsageHistory {
		records = append(records, domain.UsageRecord{
			UserID:         record.UserID,
			OrderID:        record.OrderID,
			DiscountAmount: record.DiscountAmount,
			UsedAt:         record.UsedAt,
		})
	}
	return domain.Coupon{
		ID:                id,
		Code:              doc.Code,
		Description:       doc.Description,
		Type:              domain.CouponType(doc.Type),
		DiscountValue:     doc.DiscountValue,
		MinPurchaseAmount: doc.MinPurchaseAmount,
		MaxDiscountAmount: doc.MaxDiscountAmount,
		UsageLimit: domain.UsageLimit{
			Total:   doc.UsageLimit.Total,
			PerUser: doc.UsageLimit.PerUser,
			PerDay:  doc.UsageLimit.PerDay,
		},
		UsedCount:    doc.UsedCount,
		UsageHistory: records,
		ValidFrom:    doc.ValidFrom,
		ValidUntil:   doc.ValidUntil,
		AppliesTo: domain.CouponScope{
			Stores:       doc.AppliesTo.Stores,
			Categories:   doc.AppliesTo.Categories,
			Products:     doc.AppliesTo.Products,
			UserTiers:    doc.AppliesTo.UserTiers,
			NewUsersOnly: doc.AppliesTo.NewUsersOnly,
		},
		IsActive:  doc.IsActive,
		CreatedBy: doc.CreatedBy,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func encodeListToken(ts time.Time, docID string) string {
	payload := fmt.Sprintf("%s|%s", ts.UTC().Format(time.RFC3339Nano), docID)
	return base64.RawURLEncoding.EncodeToString([]byte(payload))
}

func decodeListToken(token string) (time.Time, string, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", err
	}
	if parts[1] == "" {
		return time.Time{}, "", errors.New("invalid token structure")
	}
	return ts, parts[1], nil
}
