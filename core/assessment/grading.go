package assessment

import (
	"hash/fnv"
	"math"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"
)

// minTextSimilarity is the go-difflib ratio above which a text answer is accepted.
const minTextSimilarity = 0.85

var (
	ErrNoAnswerKey = errors.New("no answer key for this variant")

	spacesRegex     = regexp.MustCompile(`\s+`)
	separatorsRegex = regexp.MustCompile(`[,;\s]+`)
	yoReplacer      = strings.NewReplacer("ё", "е", "Ё", "е")
)

// NormalizeAnswer trims and lower-cases s, replaces "ё" with "е" and collapses whitespace.
func NormalizeAnswer(s string) string {
	s = yoReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))
	return spacesRegex.ReplaceAllString(s, " ")
}

// choiceSet splits a multiple choice answer ("1, 3", "1;3", "3 1") into a sorted set.
func choiceSet(s string) []string {
	parts := separatorsRegex.Split(NormalizeAnswer(s), -1)
	set := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, ".)")
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		set = append(set, p)
	}
	sort.Strings(set)
	return set
}

func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	return difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, "")).Ratio()
}

// IsCorrect reports whether given matches the expected answer.
func IsCorrect(expected Answer, given string) bool {
	given = NormalizeAnswer(given)
	if given == "" {
		return false
	}

	accepted := append([]string{expected.Value}, expected.Alternatives...)
	typ := expected.Type
	if typ == "" && len(choiceSet(expected.Value)) > 1 {
		typ = QuestionMultiple
	}

	for _, exp := range accepted {
		switch typ {
		case QuestionMultiple:
			if strings.Join(choiceSet(exp), ",") == strings.Join(choiceSet(given), ",") {
				return true
			}
		case QuestionText:
			if similarity(NormalizeAnswer(exp), given) >= minTextSimilarity {
				return true
			}
		default:
			if strings.Trim(NormalizeAnswer(exp), ".)") == strings.Trim(given, ".)") {
				return true
			}
		}
	}
	return false
}

// Grade scores answers against the answer key of the submission's variant.
func Grade(chk Check, variant int, answers map[int]string) (Evaluation, error) {
	key, ok := chk.AnswerKeys[variant]
	if !ok || len(key) == 0 {
		return Evaluation{}, errors.Wrapf(ErrNoAnswerKey, "variant %d", variant)
	}

	var (
		ev             Evaluation
		points, maxPts float64
	)
	for _, q := range sortedQuestionNumbers(key) {
		exp := key[q]
		res := AnswerResult{
			Question:  q,
			Given:     answers[q],
			Expected:  exp.Value,
			MaxPoints: exp.MaxPoints(),
		}
		if IsCorrect(exp, res.Given) {
			res.Correct = true
			res.Points = res.MaxPoints
			ev.CorrectAnswers++
		}
		points += res.Points
		maxPts += res.MaxPoints
		ev.Details = append(ev.Details, res)
	}

	ev.TotalQuestions = len(key)
	if maxPts > 0 {
		ev.Percentage = round2(points / maxPts * 100)
	}
	ev.FinalGrade = FinalGrade(chk.Criteria, ev.Percentage)
	ev.Confidence = 1
	return ev, nil
}

// FinalGrade returns the grade of the highest criterion whose minimum percentage is reached.
func FinalGrade(criteria []GradeCriterion, percentage float64) int {
	if len(criteria) == 0 {
		criteria = DefaultCriteria
	}
	sorted := append([]GradeCriterion(nil), criteria...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinPercentage > sorted[j].MinPercentage })

	for _, c := range sorted {
		if percentage >= c.MinPercentage {
			return c.Grade
		}
	}
	return sorted[len(sorted)-1].Grade
}

// GradePercentage returns the minimum percentage of grade, used for essays graded directly.
func GradePercentage(criteria []GradeCriterion, grade int) float64 {
	if len(criteria) == 0 {
		criteria = DefaultCriteria
	}
	for _, c := range criteria {
		if c.Grade == grade {
			return c.MinPercentage
		}
	}
	return 0
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// BuildAnswerKeys derives the answer keys of a check from a generated test.
// Variant 1 keeps the question order; other variants shuffle it deterministically.
func BuildAnswerKeys(test GeneratedTest, variants int) AnswerKeys {
	keys := make(AnswerKeys, variants)
	for v := 1; v <= variants; v++ {
		order := VariantOrder(test.ID, v, len(test.Questions))
		key := make(map[int]Answer, len(order))
		for i, idx := range order {
			key[i+1] = questionAnswer(test.Questions[idx])
		}
		keys[v] = key
	}
	return keys
}

// VariantOrder returns the question indexes of variant, in the order they appear on the variant's sheet.
func VariantOrder(testID string, variant, n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if variant <= 1 {
		return order
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(testID + "#" + strconv.Itoa(variant)))
	rnd := rand.New(rand.NewSource(int64(h.Sum64())))
	rnd.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}

func questionAnswer(q Question) Answer {
	ans := Answer{Type: q.Type, Points: q.Points}
	if q.Type == QuestionText {
		ans.Value = q.Correct[0]
		ans.Alternatives = q.Correct[1:]
		return ans
	}

	nums := make([]int, 0, len(q.Correct))
	for _, c := range q.Correct {
		if idx := optionIndex(q.Options, c); idx >= 0 {
			nums = append(nums, idx+1)
		}
	}
	sort.Ints(nums)
	strs := make([]string, 0, len(nums))
	for _, n := range nums {
		strs = append(strs, strconv.Itoa(n))
	}
	ans.Value = strings.Join(strs, ",")
	return ans
}

func optionIndex(options []string, opt string) int {
	opt = NormalizeAnswer(opt)
	for i, o := range options {
		if NormalizeAnswer(o) == opt {
			return i
		}
	}
	return -1
}
