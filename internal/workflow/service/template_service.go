package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/JonMonday/inv-sub000/internal/workflow/model"
)

// TemplateDefinition describes a full template version graph with steps referenced by key.
type TemplateDefinition struct {
	Code        string
	Name        string
	Description string
	Version     int
	Status      model.TemplateStatus
	Steps       []StepDefinition
	Transitions []TransitionDefinition
}

// StepDefinition describes one step and its optional rule.
type StepDefinition struct {
	Key        string
	Name       string
	Type       model.StepType
	SequenceNo int
	Rule       *model.WorkflowStepRule
}

// TransitionDefinition is an edge between two step keys.
type TransitionDefinition struct {
	FromKey string
	Action  model.ActionCode
	ToKey   string
}

// TemplateService is the read side of template versions plus a writer used for provisioning.
type TemplateService struct {
	db *gorm.DB
}

func NewTemplateService(db *gorm.DB) *TemplateService {
	return &TemplateService{db: db}
}

// CreateTemplate persists a complete template version in one transaction.
func (s *TemplateService) CreateTemplate(ctx context.Context, def TemplateDefinition) (*model.WorkflowTemplate, error) {
	if def.Code == "" || len(def.Steps) == 0 {
		return nil, ErrInvalidInput.Newf("template needs a code and at least one step")
	}
	if def.Status == "" {
		def.Status = model.TemplateStatusPublished
	}
	if def.Version == 0 {
		def.Version = 1
	}

	var template *model.WorkflowTemplate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		template = &model.WorkflowTemplate{
			Code:        def.Code,
			Version:     def.Version,
			Name:        def.Name,
			Description: def.Description,
			Status:      def.Status,
			IsActive:    true,
		}
		if err := tx.Create(template).Error; err != nil {
			return fmt.Errorf("failed to create workflow template: %w", err)
		}

		stepIDs := make(map[string]uuid.UUID, len(def.Steps))
		for _, sd := range def.Steps {
			if _, dup := stepIDs[sd.Key]; dup {
				return ErrInvalidInput.Newf("duplicate step key %q", sd.Key)
			}
			step := model.WorkflowStep{
				TemplateID: template.ID,
				StepKey:    sd.Key,
				Name:       sd.Name,
				StepType:   sd.Type,
				SequenceNo: sd.SequenceNo,
				IsActive:   true,
			}
			if err := tx.Omit("Rule").Create(&step).Error; err != nil {
				return fmt.Errorf("failed to create step %s: %w", sd.Key, err)
			}
			if sd.Rule != nil {
				rule := *sd.Rule
				rule.ID = uuid.Nil
				rule.StepID = step.ID
				if err := tx.Create(&rule).Error; err != nil {
					return fmt.Errorf("failed to create rule for step %s: %w", sd.Key, err)
				}
				step.Rule = &rule
			}
			stepIDs[sd.Key] = step.ID
			template.Steps = append(template.Steps, step)
		}

		for _, td := range def.Transitions {
			if _, ok := model.ParseActionCode(string(td.Action)); !ok {
				return ErrUnknownAction.Newf("unknown action code %q", td.Action)
			}
			from, okFrom := stepIDs[td.FromKey]
			to, okTo := stepIDs[td.ToKey]
			if !okFrom || !okTo {
				return ErrInvalidInput.Newf("transition %s -%s-> %s references an unknown step", td.FromKey, td.Action, td.ToKey)
			}
			transition := model.WorkflowTransition{
				TemplateID: template.ID,
				FromStepID: from,
				ActionCode: td.Action,
				ToStepID:   to,
			}
			if err := tx.Create(&transition).Error; err != nil {
				return fmt.Errorf("failed to create transition %s -%s-> %s: %w", td.FromKey, td.Action, td.ToKey, err)
			}
			template.Transitions = append(template.Transitions, transition)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return template, nil
}

// GetActiveVersionInTx loads a template version that can be started.
func (s *TemplateService) GetActiveVersionInTx(ctx context.Context, tx *gorm.DB, templateID uuid.UUID) (*model.WorkflowTemplate, error) {
	var template model.WorkflowTemplate
	err := tx.WithContext(ctx).
		Where("id = ? AND is_active = ? AND status = ?", templateID, true, model.TemplateStatusPublished).
		First(&template).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound.Newf("no active published workflow template %s", templateID)
		}
		return nil, fmt.Errorf("failed to load workflow template %s: %w", templateID, err)
	}
	return &template, nil
}

// GetActiveVersionByCodeInTx loads the highest active published version of a template code.
func (s *TemplateService) GetActiveVersionByCodeInTx(ctx context.Context, tx *gorm.DB, code string) (*model.WorkflowTemplate, error) {
	var template model.WorkflowTemplate
	err := tx.WithContext(ctx).
		Where("code = ? AND is_active = ? AND status = ?", code, true, model.TemplateStatusPublished).
		Order("version DESC").
		First(&template).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound.Newf("no active published workflow template with code %q", code)
		}
		return nil, fmt.Errorf("failed to load workflow template %q: %w", code, err)
	}
	return &template, nil
}

// GetStartStepInTx returns the single active sequence-0 step of a template version.
func (s *TemplateService) GetStartStepInTx(ctx context.Context, tx *gorm.DB, templateID uuid.UUID) (*model.WorkflowStep, error) {
	var steps []model.WorkflowStep
	err := tx.WithContext(ctx).Preload("Rule").
		Where("template_id = ? AND sequence_no = ? AND is_active = ?", templateID, 0, true).
		Limit(2).
		Find(&steps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load start step of template %s: %w", templateID, err)
	}
	switch len(steps) {
	case 0:
		return nil, ErrNoStartStep.Newf("workflow template %s has no sequence 0 step", templateID)
	case 1:
		return &steps[0], nil
	default:
		return nil, ErrAmbiguousStartStep.Newf("workflow template %s has more than one sequence 0 step", templateID)
	}
}

// GetStepInTx loads a step with its rule.
func (s *TemplateService) GetStepInTx(ctx context.Context, tx *gorm.DB, stepID uuid.UUID) (*model.WorkflowStep, error) {
	var step model.WorkflowStep
	if err := tx.WithContext(ctx).Preload("Rule").First(&step, "id = ?", stepID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStepNotFound.Newf("workflow step %s not found", stepID)
		}
		return nil, fmt.Errorf("failed to load workflow step %s: %w", stepID, err)
	}
	return &step, nil
}

// LoadGraphInTx loads a template version with its steps, rules and transitions.
func (s *TemplateService) LoadGraphInTx(ctx context.Context, tx *gorm.DB, templateID uuid.UUID) (*model.WorkflowTemplate, error) {
	if tx == nil {
		tx = s.db
	}
	var template model.WorkflowTemplate
	err := tx.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("sequence_no, step_key") }).
		Preload("Steps.Rule").
		Preload("Transitions").
		First(&template, "id = ?", templateID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound.Newf("workflow template %s not found", templateID)
		}
		return nil, fmt.Errorf("failed to load workflow template %s: %w", templateID, err)
	}
	return &template, nil
}

// FindTransitionInTx returns the edge leaving fromStepID for action, or nil when the step is terminal for it.
func (s *TemplateService) FindTransitionInTx(ctx context.Context, tx *gorm.DB, fromStepID uuid.UUID, action model.ActionCode) (*model.WorkflowTransition, error) {
	var transitions []model.WorkflowTransition
	err := tx.WithContext(ctx).
		Where("from_step_id = ? AND action_code = ?", fromStepID, action).
		Limit(1).
		Find(&transitions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up transition from %s on %s: %w", fromStepID, action, err)
	}
	if len(transitions) == 0 {
		return nil, nil
	}
	return &transitions[0], nil
}
