package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/eduplan/eduplan-api/internal/dto"
	"github.com/eduplan/eduplan-api/internal/models"
	appErrors "github.com/eduplan/eduplan-api/pkg/errors"
)

type subjectStore interface {
	Create(ctx context.Context, subject *models.Subject) error
	FindByID(ctx context.Context, id string) (*models.Subject, error)
	ExistsByCode(ctx context.Context, code, excludeID string) (bool, error)
	List(ctx context.Context) ([]models.Subject, error)
	Update(ctx context.Context, subject *models.Subject) error
	Delete(ctx context.Context, id string) error
}

type groupStore interface {
	Create(ctx context.Context, group *models.Group) error
	FindByID(ctx context.Context, id string) (*models.Group, error)
	FindDetail(ctx context.Context, id string) (*models.GroupDetail, error)
	List(ctx context.Context, filter models.GroupFilter) ([]models.GroupDetail, int, error)
	Update(ctx context.Context, group *models.Group) error
	Delete(ctx context.Context, id string) error
}

type classroomStore interface {
	Create(ctx context.Context, classroom *models.Classroom) error
	FindByID(ctx context.Context, id string) (*models.Classroom, error)
	List(ctx context.Context) ([]models.Classroom, error)
	Update(ctx context.Context, classroom *models.Classroom) error
	Delete(ctx context.Context, id string) error
}

// CatalogService manages the subject, group, and classroom catalog that
// scheduling and enrollment operate over.
type CatalogService struct {
	subjects   subjectStore
	groups     groupStore
	classrooms classroomStore
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(subjects subjectStore, groups groupStore, classrooms classroomStore, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CatalogService{subjects: subjects, groups: groups, classrooms: classrooms, validator: validate, logger: logger}
}

// CreateSubject registers a subject with a unique code.
func (s *CatalogService) CreateSubject(ctx context.Context, req dto.CreateSubjectRequest) (*models.Subject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	taken, err := s.subjects.ExistsByCode(ctx, code, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subject code")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "subject code already in use")
	}
	subject := &models.Subject{
		Name:    req.Name,
		Code:    code,
		Credits: req.Credits,
		Area:    req.Area,
	}
	if err := s.subjects.Create(ctx, subject); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subject")
	}
	return subject, nil
}

// GetSubject loads one subject.
func (s *CatalogService) GetSubject(ctx context.Context, id string) (*models.Subject, error) {
	subject, err := s.subjects.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	return subject, nil
}

// ListSubjects returns the subject catalog.
func (s *CatalogService) ListSubjects(ctx context.Context) ([]models.Subject, error) {
	subjects, err := s.subjects.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}
	return subjects, nil
}

// UpdateSubject modifies a subject.
func (s *CatalogService) UpdateSubject(ctx context.Context, id string, req dto.UpdateSubjectRequest) (*models.Subject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}
	subject, err := s.GetSubject(ctx, id)
	if err != nil {
		return nil, err
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	taken, err := s.subjects.ExistsByCode(ctx, code, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subject code")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "subject code already in use")
	}
	subject.Name = req.Name
	subject.Code = code
	subject.Credits = req.Credits
	subject.Area = req.Area
	if err := s.subjects.Update(ctx, subject); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update subject")
	}
	return subject, nil
}

// DeleteSubject removes a subject.
func (s *CatalogService) DeleteSubject(ctx context.Context, id string) error {
	if err := s.subjects.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete subject")
	}
	return nil
}

// CreateGroup registers a group offering of a subject.
func (s *CatalogService) CreateGroup(ctx context.Context, req dto.CreateGroupRequest) (*models.Group, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid group payload")
	}
	if _, err := s.GetSubject(ctx, req.SubjectID); err != nil {
		return nil, err
	}
	group := &models.Group{
		Name:        req.Name,
		SubjectID:   req.SubjectID,
		Semester:    req.Semester,
		MaxCapacity: req.MaxCapacity,
	}
	if err := s.groups.Create(ctx, group); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create group")
	}
	return group, nil
}

// GetGroup loads one group with its subject.
func (s *CatalogService) GetGroup(ctx context.Context, id string) (*models.GroupDetail, error) {
	detail, err := s.groups.FindDetail(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	return detail, nil
}

// ListGroups returns groups matching the filter.
func (s *CatalogService) ListGroups(ctx context.Context, filter models.GroupFilter) ([]models.GroupDetail, int, error) {
	groups, total, err := s.groups.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list groups")
	}
	return groups, total, nil
}

// UpdateGroup modifies a group. Shrinking capacity below the current
// enrollment count is allowed; existing enrollments are never evicted.
func (s *CatalogService) UpdateGroup(ctx context.Context, id string, req dto.UpdateGroupRequest) (*models.Group, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid group payload")
	}
	group, err := s.groups.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	if _, err := s.GetSubject(ctx, req.SubjectID); err != nil {
		return nil, err
	}
	group.Name = req.Name
	group.SubjectID = req.SubjectID
	group.Semester = req.Semester
	group.MaxCapacity = req.MaxCapacity
	if err := s.groups.Update(ctx, group); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update group")
	}
	return group, nil
}

// DeleteGroup removes a group.
func (s *CatalogService) DeleteGroup(ctx context.Context, id string) error {
	if err := s.groups.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete group")
	}
	return nil
}

// CreateClassroom registers a physical room.
func (s *CatalogService) CreateClassroom(ctx context.Context, req dto.CreateClassroomRequest) (*models.Classroom, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid classroom payload")
	}
	classroom := &models.Classroom{
		Building:  req.Building,
		Number:    req.Number,
		Capacity:  req.Capacity,
		Resources: req.Resources,
		State:     models.ClassroomStateAvailable,
	}
	if err := s.classrooms.Create(ctx, classroom); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create classroom")
	}
	return classroom, nil
}

// GetClassroom loads one classroom.
func (s *CatalogService) GetClassroom(ctx context.Context, id string) (*models.Classroom, error) {
	classroom, err := s.classrooms.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "classroom not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load classroom")
	}
	return classroom, nil
}

// ListClassrooms returns the classroom catalog.
func (s *CatalogService) ListClassrooms(ctx context.Context) ([]models.Classroom, error) {
	classrooms, err := s.classrooms.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classrooms")
	}
	return classrooms, nil
}

// UpdateClassroom modifies a classroom, including its availability state.
func (s *CatalogService) UpdateClassroom(ctx context.Context, id string, req dto.UpdateClassroomRequest) (*models.Classroom, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid classroom payload")
	}
	classroom, err := s.GetClassroom(ctx, id)
	if err != nil {
		return nil, err
	}
	classroom.Building = req.Building
	classroom.Number = req.Number
	classroom.Capacity = req.Capacity
	classroom.Resources = req.Resources
	classroom.State = models.ClassroomState(req.State)
	if err := s.classrooms.Update(ctx, classroom); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "classroom not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update classroom")
	}
	return classroom, nil
}

// DeleteClassroom removes a classroom.
func (s *CatalogService) DeleteClassroom(ctx context.Context, id string) error {
	if err := s.classrooms.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete classroom")
	}
	return nil
}
