package assessment

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lim5max/checklytool/core"
)

// Check types
const (
	CheckTypeTest  = "test"
	CheckTypeEssay = "essay"
)

// Question types
const (
	QuestionSingle   = "single"
	QuestionMultiple = "multiple"
	QuestionText     = "text"
)

// Submission statuses
const (
	SubmissionPending    = "pending"
	SubmissionProcessing = "processing"
	SubmissionCompleted  = "completed"
	SubmissionFailed     = "failed"
)

// ProcessingTimeout is how long a submission may stay in processing before it can be evaluated again.
const ProcessingTimeout = 10 * time.Minute

var DefaultCriteria = []GradeCriterion{
	{Grade: 5, MinPercentage: 85},
	{Grade: 4, MinPercentage: 70},
	{Grade: 3, MinPercentage: 50},
	{Grade: 2, MinPercentage: 0},
}

type GradeCriterion struct {
	Grade         int     `json:"grade" validate:"min=2,max=5"`
	MinPercentage float64 `json:"min_percentage" validate:"gte=0,lte=100"`
}

// Answer is the expected answer to one question of one variant.
type Answer struct {
	Value        string   `json:"value"`
	Alternatives []string `json:"alternatives,omitempty"`
	Type         string   `json:"type,omitempty" validate:"omitempty,questiontype"`
	Points       float64  `json:"points,omitempty" validate:"gte=0"`
}

func (a Answer) MaxPoints() float64 {
	if a.Points <= 0 {
		return 1
	}
	return a.Points
}

// AnswerKeys maps variant number -> question number -> expected answer. Numbers start at 1.
type AnswerKeys map[int]map[int]Answer

type Check struct {
	ID              string           `json:"id"`
	UserID          string           `json:"user_id"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Subject         string           `json:"subject"`
	ClassName       string           `json:"class_name"`
	CheckType       string           `json:"check_type"`
	VariantCount    int              `json:"variant_count"`
	TotalQuestions  int              `json:"total_questions"`
	Criteria        []GradeCriterion `json:"criteria"`
	AnswerKeys      AnswerKeys       `json:"answer_keys"`
	EssayRubric     string           `json:"essay_rubric,omitempty"`
	GeneratedTestID string           `json:"generated_test_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewCheck contains information needed to create a new Check.
type NewCheck struct {
	Title          string           `json:"title" validate:"required,notblank,max=255"`
	Description    string           `json:"description"`
	Subject        string           `json:"subject" validate:"max=100"`
	ClassName      string           `json:"class_name" validate:"max=50"`
	CheckType      string           `json:"check_type" validate:"required,checktype"`
	VariantCount   int              `json:"variant_count" validate:"min=1,max=10"`
	TotalQuestions int              `json:"total_questions" validate:"gte=0,lte=200"`
	Criteria       []GradeCriterion `json:"criteria" validate:"omitempty,dive"`
	AnswerKeys     AnswerKeys       `json:"answer_keys" validate:"omitempty,dive,dive"`
	EssayRubric    string           `json:"essay_rubric"`
}

func (nc *NewCheck) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Subject = core.CleanString(nc.Subject)
	nc.ClassName = core.CleanString(nc.ClassName)
	if nc.VariantCount == 0 {
		nc.VariantCount = 1
	}
	if len(nc.Criteria) == 0 {
		nc.Criteria = append([]GradeCriterion(nil), DefaultCriteria...)
	}

	if err := validate.Struct(nc); err != nil {
		return err
	}
	if err := validateCriteria(nc.Criteria); err != nil {
		return err
	}
	return validateAnswerKeys(nc.AnswerKeys, nc.VariantCount, nc.TotalQuestions)
}

// UpdateCheck defines what information may be provided to modify an existing Check.
type UpdateCheck struct {
	Title          *string          `json:"title" validate:"omitempty,notblank,max=255"`
	Description    *string          `json:"description"`
	Subject        *string          `json:"subject" validate:"omitempty,max=100"`
	ClassName      *string          `json:"class_name" validate:"omitempty,max=50"`
	VariantCount   *int             `json:"variant_count" validate:"omitempty,min=1,max=10"`
	TotalQuestions *int             `json:"total_questions" validate:"omitempty,gte=0,lte=200"`
	Criteria       []GradeCriterion `json:"criteria" validate:"omitempty,dive"`
	AnswerKeys     AnswerKeys       `json:"answer_keys" validate:"omitempty,dive,dive"`
	EssayRubric    *string          `json:"essay_rubric"`
}

// Apply validates uc and applies it to a copy of chk.
func (uc *UpdateCheck) Apply(chk Check, validate *validator.Validate) (Check, error) {
	if err := validate.Struct(uc); err != nil {
		return Check{}, err
	}

	if uc.Title != nil {
		chk.Title = core.CleanString(*uc.Title)
	}
	if uc.Description != nil {
		chk.Description = *uc.Description
	}
	if uc.Subject != nil {
		chk.Subject = core.CleanString(*uc.Subject)
	}
	if uc.ClassName != nil {
		chk.ClassName = core.CleanString(*uc.ClassName)
	}
	if uc.VariantCount != nil {
		chk.VariantCount = *uc.VariantCount
	}
	if uc.TotalQuestions != nil {
		chk.TotalQuestions = *uc.TotalQuestions
	}
	if uc.Criteria != nil {
		if err := validateCriteria(uc.Criteria); err != nil {
			return Check{}, err
		}
		chk.Criteria = uc.Criteria
	}
	if uc.AnswerKeys != nil {
		chk.AnswerKeys = uc.AnswerKeys
	}
	if uc.EssayRubric != nil {
		chk.EssayRubric = *uc.EssayRubric
	}

	if err := validateAnswerKeys(chk.AnswerKeys, chk.VariantCount, chk.TotalQuestions); err != nil {
		return Check{}, err
	}
	return chk, nil
}

// validateCriteria checks that grades are unique and minimum percentages distinct.
func validateCriteria(criteria []GradeCriterion) error {
	grades := make(map[int]bool, len(criteria))
	mins := make(map[float64]bool, len(criteria))
	for _, c := range criteria {
		if grades[c.Grade] {
			return core.NewValidationError(nil, core.FieldError{Field: "criteria", Error: fmt.Sprintf("grade %d is defined twice", c.Grade)})
		}
		if mins[c.MinPercentage] {
			return core.NewValidationError(nil, core.FieldError{Field: "criteria", Error: "minimum percentages must be distinct"})
		}
		grades[c.Grade] = true
		mins[c.MinPercentage] = true
	}
	return nil
}

func validateAnswerKeys(keys AnswerKeys, variantCount, totalQuestions int) error {
	for variant, answers := range keys {
		if variant < 1 || variant > variantCount {
			return core.NewValidationError(nil, core.FieldError{
				Field: "answer_keys",
				Error: fmt.Sprintf("variant %d is out of range [1, %d]", variant, variantCount),
			})
		}
		for q := range answers {
			if q < 1 || (totalQuestions > 0 && q > totalQuestions) {
				return core.NewValidationError(nil, core.FieldError{
					Field: "answer_keys",
					Error: fmt.Sprintf("variant %d: question %d is out of range", variant, q),
				})
			}
		}
	}
	return nil
}

type CheckFilter struct {
	Search    string `query:"search"`
	CheckType string `query:"check_type"`
}

func (cf *CheckFilter) Clean() {
	cf.Search = core.CleanString(cf.Search)
	cf.CheckType = core.CleanString(cf.CheckType, true /* lower */)
}

// Question is a question of a GeneratedTest.
// For choice questions Correct holds the correct option texts; for text questions the accepted answers.
type Question struct {
	ID          string   `json:"id"`
	Text        string   `json:"text" validate:"required,notblank"`
	Type        string   `json:"type" validate:"required,questiontype"`
	Options     []string `json:"options"`
	Correct     []string `json:"correct" validate:"required,min=1"`
	Points      float64  `json:"points" validate:"gte=0"`
	Explanation string   `json:"explanation,omitempty"`
}

type GeneratedTest struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Title     string     `json:"title"`
	Subject   string     `json:"subject"`
	Questions []Question `json:"questions"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewTest is used both to create and to replace a GeneratedTest.
type NewTest struct {
	Title     string     `json:"title" validate:"required,notblank,max=255"`
	Subject   string     `json:"subject" validate:"max=100"`
	Questions []Question `json:"questions" validate:"required,min=1,max=200,dive"`
}

func (nt *NewTest) Validate(validate *validator.Validate) error {
	nt.Title = core.CleanString(nt.Title)
	nt.Subject = core.CleanString(nt.Subject)
	if err := validate.Struct(nt); err != nil {
		return err
	}

	for i, q := range nt.Questions {
		if q.Type == QuestionText {
			continue
		}
		if len(q.Options) < 2 {
			return core.NewValidationError(nil, core.FieldError{
				Field: "questions",
				Error: fmt.Sprintf("question %d: choice questions need at least 2 options", i+1),
			})
		}
		if q.Type == QuestionSingle && len(q.Correct) != 1 {
			return core.NewValidationError(nil, core.FieldError{
				Field: "questions",
				Error: fmt.Sprintf("question %d: single choice questions have exactly 1 correct option", i+1),
			})
		}
		for _, c := range q.Correct {
			if optionIndex(q.Options, c) < 0 {
				return core.NewValidationError(nil, core.FieldError{
					Field: "questions",
					Error: fmt.Sprintf("question %d: %q is not one of the options", i+1, c),
				})
			}
		}
	}
	return nil
}

// CheckFromTest configures a Check derived from a GeneratedTest.
type CheckFromTest struct {
	VariantCount int              `json:"variant_count" validate:"omitempty,min=1,max=10"`
	ClassName    string           `json:"class_name" validate:"max=50"`
	Criteria     []GradeCriterion `json:"criteria" validate:"omitempty,dive"`
}

func (cft *CheckFromTest) Validate(validate *validator.Validate) error {
	cft.ClassName = core.CleanString(cft.ClassName)
	if cft.VariantCount == 0 {
		cft.VariantCount = 1
	}
	if len(cft.Criteria) == 0 {
		cft.Criteria = append([]GradeCriterion(nil), DefaultCriteria...)
	}
	if err := validate.Struct(cft); err != nil {
		return err
	}
	return validateCriteria(cft.Criteria)
}

type Submission struct {
	ID            string         `json:"id"`
	CheckID       string         `json:"check_id"`
	UserID        string         `json:"user_id"`
	StudentName   string         `json:"student_name"`
	StudentClass  string         `json:"student_class"`
	VariantNumber int            `json:"variant_number"`
	Answers       map[int]string `json:"answers"`
	Content       string         `json:"content,omitempty"`
	ImageURLs     []string       `json:"image_urls"`
	Status        string         `json:"status"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type NewSubmission struct {
	StudentName   string         `json:"student_name" validate:"max=255"`
	StudentClass  string         `json:"student_class" validate:"max=50"`
	VariantNumber int            `json:"variant_number"`
	Answers       map[int]string `json:"answers"`
	Content       string         `json:"content"`
	ImageURLs     []string       `json:"image_urls" validate:"max=20,dive,url"`
}

func (ns *NewSubmission) Validate(chk Check, validate *validator.Validate) error {
	ns.StudentName = core.CleanString(ns.StudentName)
	ns.StudentClass = core.CleanString(ns.StudentClass)
	if ns.VariantNumber == 0 {
		ns.VariantNumber = 1
	}

	if err := validate.Struct(ns); err != nil {
		return err
	}
	if ns.VariantNumber < 1 || ns.VariantNumber > chk.VariantCount {
		return core.NewValidationError(nil, core.FieldError{
			Field: "variant_number",
			Error: fmt.Sprintf("must be between 1 and %d", chk.VariantCount),
		})
	}
	if len(ns.Answers) == 0 && ns.Content == "" && len(ns.ImageURLs) == 0 {
		return core.NewValidationError(nil, core.FieldError{Field: "answers", Error: "answers, content or images are required"})
	}
	return nil
}

type AnswerResult struct {
	Question  int     `json:"question"`
	Given     string  `json:"given"`
	Expected  string  `json:"expected"`
	Correct   bool    `json:"correct"`
	Points    float64 `json:"points"`
	MaxPoints float64 `json:"max_points"`
}

type Evaluation struct {
	SubmissionID   string         `json:"submission_id"`
	TotalQuestions int            `json:"total_questions"`
	CorrectAnswers int            `json:"correct_answers"`
	Percentage     float64        `json:"percentage"`
	FinalGrade     int            `json:"final_grade"`
	Details        []AnswerResult `json:"details"`
	Comment        string         `json:"comment,omitempty"`
	Confidence     float64        `json:"confidence"`
	CreatedAt      time.Time      `json:"created_at"`
}

// SubmissionDetail is a Submission with its latest Evaluation, if any.
type SubmissionDetail struct {
	Submission
	Evaluation *Evaluation `json:"evaluation"`
}

type Statistics struct {
	CheckID           string      `json:"check_id"`
	TotalSubmissions  int         `json:"total_submissions"`
	Evaluated         int         `json:"evaluated"`
	AveragePercentage float64     `json:"average_percentage"`
	AverageGrade      float64     `json:"average_grade"`
	GradeDistribution map[int]int `json:"grade_distribution"`
}

// EssayGrade is the outcome of grading an essay.
type EssayGrade struct {
	Grade      int
	Comment    string
	Confidence float64
}

func sortedQuestionNumbers(answers map[int]Answer) []int {
	nums := make([]int, 0, len(answers))
	for n := range answers {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}
