package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"QRKot/internal/matcher"
	"QRKot/internal/model"
	"QRKot/internal/repository"
)

// DonationService принимает пожертвования и распределяет их по проектам
type DonationService struct {
	core
}

// NewDonationService создаёт сервис пожертвований
func NewDonationService(store Store, c Cache, pub Publisher, log zerolog.Logger) *DonationService {
	return &DonationService{core: newCore(store, c, pub, log.With().Str("component", "donations").Logger())}
}

// Create сохраняет пожертвование пользователя userID и распределяет его
// по открытым проектам, начиная с самых старых
func (s *DonationService) Create(ctx context.Context, userID int, fullAmount int64, comment *string) (*model.Donation, error) {
	if err := model.ValidateNewDonation(fullAmount); err != nil {
		return nil, err
	}

	var (
		donation  *model.Donation
		transfers []matcher.Transfer[*model.CharityProject]
		at        time.Time
	)
	err := s.inTx(ctx, "create_donation", func(tx repository.Tx) error {
		at = s.now()
		donation = &model.Donation{UserID: userID, Comment: comment,
			FundingState: model.FundingState{FullAmount: fullAmount, CreateDate: at}}
		if err := tx.CreateDonation(ctx, donation); err != nil {
			return err
		}
		open, err := tx.OpenProjects(ctx)
		if err != nil {
			return err
		}
		if transfers, err = matcher.Allocate(donation, open, at); err != nil {
			return err
		}
		if len(transfers) == 0 {
			return nil
		}
		if err := tx.SaveDonation(ctx, donation); err != nil {
			return err
		}
		for _, t := range transfers {
			if err := tx.SaveProject(ctx, t.Counterpart); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int("donation_id", donation.ID).
		Int("user_id", userID).
		Int64("invested", donation.InvestedAmount).
		Msg("donation accepted")
	s.afterCommit(ctx, donationEvents(donation, transfers, at))
	return donation, nil
}

// List возвращает все пожертвования
func (s *DonationService) List(ctx context.Context) ([]model.Donation, error) {
	return s.store.ListDonations(ctx)
}

// ListByUser возвращает пожертвования одного пользователя
func (s *DonationService) ListByUser(ctx context.Context, userID int) ([]model.Donation, error) {
	return s.store.ListUserDonations(ctx, userID)
}
