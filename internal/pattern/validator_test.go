package pattern

import (
	"testing"

	"github.com/Veraticus/statement-spice/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRule(t *testing.T) {
	valid := func() *Rule {
		r := rule(1, "netflix", model.MatchExact, baseTime)
		return &r
	}

	tests := []struct {
		mutate  func(r *Rule)
		name    string
		wantErr bool
	}{
		{name: "valid rule", mutate: func(_ *Rule) {}},
		{name: "empty pattern", mutate: func(r *Rule) { r.Pattern = " " }, wantErr: true},
		{name: "missing owner", mutate: func(r *Rule) { r.OwnerID = "" }, wantErr: true},
		{name: "unknown match type", mutate: func(r *Rule) { r.MatchType = "REGEX" }, wantErr: true},
		{name: "unknown source", mutate: func(r *Rule) { r.Source = "IMPORT" }, wantErr: true},
		{
			name: "min greater than max",
			mutate: func(r *Rule) {
				r.MinAmount = decPtr("150")
				r.MaxAmount = decPtr("50")
			},
			wantErr: true,
		},
		{
			name: "min equal to max",
			mutate: func(r *Rule) {
				r.MinAmount = decPtr("50")
				r.MaxAmount = decPtr("50.00")
			},
		},
		{name: "negative bound", mutate: func(r *Rule) { r.MinAmount = decPtr("-1") }, wantErr: true},
		{
			name: "end before start",
			mutate: func(r *Rule) {
				r.StartDate = datePtr("2024-05-01")
				r.EndDate = datePtr("2024-04-01")
			},
			wantErr: true,
		},
		{name: "placeholder is valid", mutate: func(r *Rule) { r.CategoryID = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			err := ValidateRule(r)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidRule)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateRule_Nil(t *testing.T) {
	assert.ErrorIs(t, ValidateRule(nil), ErrInvalidRule)
}
