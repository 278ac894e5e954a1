package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/kubilitics/kubilitics-brain/internal/adapters"
	"github.com/kubilitics/kubilitics-brain/internal/reasoning/intent"
	"github.com/kubilitics/kubilitics-brain/pkg/types"
)

// ErrMalformedQuestion means the question failed validation.
var ErrMalformedQuestion = errors.New("malformed question")

var assetIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("assetid", func(fl validator.FieldLevel) bool {
		return assetIDPattern.MatchString(fl.Field().String())
	})
	return v
}

// normalize fills defaults and validates q. The returned question is the
// one the pipeline runs on.
func (e *Engine) normalize(q types.Question) (types.Question, bool, error) {
	q.Text = strings.TrimSpace(q.Text)
	q.Assets = append([]string(nil), q.Assets...)
	q.Intents = append([]string(nil), q.Intents...)
	if len(q.Assets) == 0 {
		return q, false, fmt.Errorf("%w: no assets given", intent.ErrMissingAssets)
	}
	if q.Role == "" {
		q.Role = e.cfg.DefaultRole
	}
	if q.Window.Start.IsZero() && q.Window.End.IsZero() {
		q.Window = e.cfg.DefaultWindow
	}
	q.Window = types.TimeWindow{Start: q.Window.Start.UTC(), End: q.Window.End.UTC()}

	if err := e.validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return q, false, fmt.Errorf("%w: %s", ErrMalformedQuestion, strings.Join(fields, "; "))
		}
		return q, false, fmt.Errorf("%w: %v", ErrMalformedQuestion, err)
	}

	seen := map[string]bool{}
	for _, a := range q.Assets {
		if seen[a] {
			return q, false, fmt.Errorf("%w: asset %s listed twice", ErrMalformedQuestion, a)
		}
		seen[a] = true
	}
	if !q.Window.End.After(q.Window.Start) {
		return q, false, fmt.Errorf("%w: window end %s is not after start %s", ErrMalformedQuestion,
			q.Window.End.Format(time.RFC3339), q.Window.Start.Format(time.RFC3339))
	}

	defaulted := false
	if q.Boundary == nil {
		mid := q.Window.Start.Add(q.Window.Duration() / 2)
		q.Boundary = &mid
		defaulted = true
	} else {
		b := q.Boundary.UTC()
		if !b.After(q.Window.Start) || !b.Before(q.Window.End) {
			return q, false, fmt.Errorf("%w: boundary %s outside window", ErrMalformedQuestion, b.Format(time.RFC3339))
		}
		q.Boundary = &b
	}
	return q, defaulted, nil
}

// QuestionFromRequest converts a wire request into a question. Times are
// RFC3339; empty fields are left for normalize to default.
func QuestionFromRequest(req types.AskRequest) (types.Question, error) {
	q := types.Question{
		Text:    req.Question,
		Assets:  req.Assets,
		Role:    req.Role,
		Intents: req.Intents,
	}
	parse := func(field, v string) (time.Time, error) {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %s %q is not RFC3339", ErrMalformedQuestion, field, v)
		}
		return ts.UTC(), nil
	}
	if req.Start != "" || req.End != "" {
		if req.Start == "" || req.End == "" {
			return q, fmt.Errorf("%w: start and end must be given together", ErrMalformedQuestion)
		}
		var err error
		if q.Window.Start, err = parse("start", req.Start); err != nil {
			return q, err
		}
		if q.Window.End, err = parse("end", req.End); err != nil {
			return q, err
		}
	}
	if req.Boundary != "" {
		b, err := parse("boundary", req.Boundary)
		if err != nil {
			return q, err
		}
		q.Boundary = &b
	}
	return q, nil
}

// validateIntent runs the Validating checks of one intent and records what
// fails. Critical failures are recorded as critical insufficient_data gaps.
func validateIntent(st *intentRun) error {
	spec := st.def.Spec
	for _, asset := range st.assets {
		ts := st.data[asset].Timeseries
		if ts == nil {
			if len(spec.Signals) == 0 {
				continue
			}
			// Request failed; every signal is absent.
			ts = &adapters.DataResult{}
		}
		returned := map[string]bool{}
		for _, s := range ts.Quality.SignalsReturned {
			returned[s] = true
		}
		for _, sig := range spec.Signals {
			if returned[sig.Name] {
				continue
			}
			severity := types.SeveritySoft
			if sig.Critical {
				severity = types.SeverityCritical
			}
			if err := st.scope.RecordGap(types.GapInsufficientData, severity,
				fmt.Sprintf("signal %s absent for %s", sig.Name, asset)); err != nil {
				return err
			}
		}
		if q := ts.Quality; spec.MinRowCoverage > 0 && q.ExpectedRows > 0 && len(spec.Signals) > 0 {
			coverage := float64(q.RowCount-q.MissingRows) / float64(q.ExpectedRows)
			if coverage < spec.MinRowCoverage {
				if err := st.scope.RecordGap(types.GapInsufficientData, types.SeverityCritical,
					fmt.Sprintf("row coverage %.2f for %s below %.2f", coverage, asset, spec.MinRowCoverage)); err != nil {
					return err
				}
			}
		}
	}

	for _, name := range spec.RequiredComputations {
		if _, ok := st.scope.Computation(name); !ok {
			if err := st.scope.RecordGap(types.GapInsufficientData, types.SeverityCritical,
				fmt.Sprintf("required computation %s not recorded", name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// abortReason returns the first critical gap that forces an abort.
// Contradictions lower confidence but never abort.
func abortReason(gaps []types.Gap) (string, bool) {
	for _, g := range gaps {
		if g.Severity == types.SeverityCritical && g.Category != types.GapContradiction {
			return g.Note, true
		}
	}
	return "", false
}
