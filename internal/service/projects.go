package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"QRKot/internal/matcher"
	"QRKot/internal/model"
	"QRKot/internal/repository"
)

// ProjectService управляет благотворительными проектами
type ProjectService struct {
	core
}

// NewProjectService создаёт сервис проектов
func NewProjectService(store Store, c Cache, pub Publisher, log zerolog.Logger) *ProjectService {
	return &ProjectService{core: newCore(store, c, pub, log.With().Str("component", "projects").Logger())}
}

// Create добавляет проект и сразу распределяет на него свободные средства
// открытых пожертвований, начиная с самых старых
func (s *ProjectService) Create(ctx context.Context, name, description string, fullAmount int64) (*model.CharityProject, error) {
	if err := model.ValidateNewProject(name, description, fullAmount); err != nil {
		return nil, err
	}

	var (
		project   *model.CharityProject
		transfers []matcher.Transfer[*model.Donation]
		at        time.Time
	)
	err := s.inTx(ctx, "create_project", func(tx repository.Tx) error {
		at = s.now()
		project = &model.CharityProject{Name: name, Description: description,
			FundingState: model.FundingState{FullAmount: fullAmount, CreateDate: at}}
		taken, err := tx.ProjectNameTaken(ctx, name, 0)
		if err != nil {
			return err
		}
		if taken {
			return model.ErrNameTaken
		}
		if err := tx.CreateProject(ctx, project); err != nil {
			return err
		}
		open, err := tx.OpenDonations(ctx)
		if err != nil {
			return err
		}
		transfers, err = allocateToProject(ctx, tx, project, open, at)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int("project_id", project.ID).Int64("invested", project.InvestedAmount).Msg("project created")
	s.afterCommit(ctx, projectEvents(project, transfers, at))
	return project, nil
}

// Update изменяет имя, описание или требуемую сумму открытого проекта.
// Снижение суммы до уже вложенной закрывает проект, повышение подтягивает
// средства открытых пожертвований.
func (s *ProjectService) Update(ctx context.Context, id int, upd model.ProjectUpdate) (*model.CharityProject, error) {
	var (
		project   *model.CharityProject
		transfers []matcher.Transfer[*model.Donation]
		at        time.Time
	)
	err := s.inTx(ctx, "update_project", func(tx repository.Tx) error {
		var err error
		transfers = nil
		if project, err = tx.GetProject(ctx, id); err != nil {
			return err
		}
		if err := project.CheckUpdate(upd); err != nil {
			return err
		}
		if upd.Name != nil && *upd.Name != project.Name {
			taken, err := tx.ProjectNameTaken(ctx, *upd.Name, project.ID)
			if err != nil {
				return err
			}
			if taken {
				return model.ErrNameTaken
			}
		}

		at = s.now()
		raised := upd.FullAmount != nil && *upd.FullAmount > project.FullAmount
		project.Apply(upd, at)
		if !raised {
			return tx.SaveProject(ctx, project)
		}
		open, err := tx.OpenDonations(ctx)
		if err != nil {
			return err
		}
		transfers, err = allocateToProject(ctx, tx, project, open, at)
		if err != nil {
			return err
		}
		if len(transfers) == 0 {
			return tx.SaveProject(ctx, project)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int("project_id", project.ID).Bool("fully_invested", project.FullyInvested).Msg("project updated")
	s.afterCommit(ctx, projectEvents(project, transfers, at))
	return project, nil
}

// Delete удаляет проект, в который ещё ничего не вложено, и возвращает его
func (s *ProjectService) Delete(ctx context.Context, id int) (*model.CharityProject, error) {
	var project *model.CharityProject
	err := s.inTx(ctx, "delete_project", func(tx repository.Tx) error {
		var err error
		if project, err = tx.GetProject(ctx, id); err != nil {
			return err
		}
		if err := project.CheckDelete(); err != nil {
			return err
		}
		return tx.DeleteProject(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int("project_id", id).Msg("project deleted")
	s.afterCommit(ctx, nil)
	return project, nil
}

// List возвращает все проекты, используя кеш
func (s *ProjectService) List(ctx context.Context) ([]model.CharityProject, error) {
	return cached(ctx, &s.core, projectsListKey, s.store.ListProjects)
}

// Report возвращает закрытые проекты по возрастанию времени сбора, используя кеш
func (s *ProjectService) Report(ctx context.Context) ([]model.ProjectCompletion, error) {
	return cached(ctx, &s.core, projectsReportKey, s.store.ProjectsByCompletionRate)
}

// allocateToProject распределяет средства donations на project и сохраняет
// все изменённые строки
func allocateToProject(ctx context.Context, tx repository.Tx, project *model.CharityProject, donations []*model.Donation, now time.Time) ([]matcher.Transfer[*model.Donation], error) {
	transfers, err := matcher.Allocate(project, donations, now)
	if err != nil {
		return nil, err
	}
	if len(transfers) == 0 {
		return nil, nil
	}
	if err := tx.SaveProject(ctx, project); err != nil {
		return nil, err
	}
	for _, t := range transfers {
		if err := tx.SaveDonation(ctx, t.Counterpart); err != nil {
			return nil, err
		}
	}
	return transfers, nil
}
