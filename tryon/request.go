package tryon

import (
	"fmt"
	"time"

	"github.com/raushankrgupta/tryon-orchestrator/models"
)

// Pricing holds the unit price and polling budget of each kind.
type Pricing struct {
	ImageCost        int64
	VideoCost        int64
	ImageMaxAttempts int
	VideoMaxAttempts int
}

// DefaultPricing is 25 units and 60 checks for images, 60 units and 120 checks for video.
func DefaultPricing() Pricing {
	return Pricing{
		ImageCost:        25,
		VideoCost:        60,
		ImageMaxAttempts: 60,
		VideoMaxAttempts: 120,
	}
}

// CostFor returns the unit price of a kind.
func (p Pricing) CostFor(kind models.Kind) int64 {
	if kind == models.KindVideo {
		return p.VideoCost
	}
	return p.ImageCost
}

// BudgetFor returns how many status checks a kind gets before timing out.
func (p Pricing) BudgetFor(kind models.Kind) int {
	if kind == models.KindVideo {
		return p.VideoMaxAttempts
	}
	return p.ImageMaxAttempts
}

// NewRequest builds a request priced from the table.
func (p Pricing) NewRequest(kind models.Kind, userID, productID, userImageRef, subjectMediaRef string) models.TryOnRequest {
	return models.TryOnRequest{
		Kind:            kind,
		Cost:            p.CostFor(kind),
		UserImageRef:    userImageRef,
		SubjectMediaRef: subjectMediaRef,
		UserID:          userID,
		ProductID:       productID,
	}
}

// Validate rejects requests that must never reach the ledger.
func Validate(req models.TryOnRequest) error {
	switch {
	case !req.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	case req.Cost <= 0:
		return fmt.Errorf("%w: cost must be positive", ErrInvalidRequest)
	case req.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	case req.ProductID == "":
		return fmt.Errorf("%w: product_id is required", ErrInvalidRequest)
	case req.UserImageRef == "" || req.SubjectMediaRef == "":
		return fmt.Errorf("%w: user_image and subject_media are required", ErrInvalidRequest)
	}
	return nil
}

// EstimatedWait approximates the wall time of a kind's full polling budget.
func (p Pricing) EstimatedWait(kind models.Kind, interval time.Duration) time.Duration {
	return time.Duration(p.BudgetFor(kind)) * interval
}
