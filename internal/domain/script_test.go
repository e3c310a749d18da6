package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() ScriptRequest {
	return ScriptRequest{
		Genre:    "revenge",
		Duration: "2min",
		Episodes: 3,
		Characters: []string{
			"Lin Yan,female,24",
			"Gu Chen,male,28",
			"Su Wan,female,26",
			"Old Master Gu,male,61",
		},
	}
}

func TestScriptRequestValidate(t *testing.T) {
	t.Run("valid request passes", func(t *testing.T) {
		assert.NoError(t, validRequest().Validate())
	})

	t.Run("missing genre", func(t *testing.T) {
		req := validRequest()
		req.Genre = "  "
		assert.ErrorIs(t, req.Validate(), ErrEmptyGenre)
	})

	t.Run("missing duration", func(t *testing.T) {
		req := validRequest()
		req.Duration = ""
		assert.ErrorIs(t, req.Validate(), ErrEmptyDuration)
	})

	t.Run("episode count bounds", func(t *testing.T) {
		req := validRequest()

		req.Episodes = 0
		assert.ErrorIs(t, req.Validate(), ErrEpisodesOutOfRange)

		req.Episodes = 101
		assert.ErrorIs(t, req.Validate(), ErrEpisodesOutOfRange)

		req.Episodes = 100
		assert.NoError(t, req.Validate())
	})

	t.Run("roster minimum", func(t *testing.T) {
		req := validRequest()
		req.Characters = req.Characters[:3]
		assert.ErrorIs(t, req.Validate(), ErrTooFewCharacters)
	})

	t.Run("malformed roster entry", func(t *testing.T) {
		req := validRequest()
		req.Characters[2] = "Su Wan,female"
		assert.ErrorIs(t, req.Validate(), ErrInvalidCharacter)
	})
}

func TestParseCharacter(t *testing.T) {
	tests := []struct {
		name    string
		entry   string
		want    Character
		wantErr bool
	}{
		{
			name:  "well formed",
			entry: "Lin Yan,female,24",
			want:  Character{Name: "Lin Yan", Gender: "female", Age: 24},
		},
		{
			name:  "whitespace tolerated",
			entry: " Gu Chen , male , 28 ",
			want:  Character{Name: "Gu Chen", Gender: "male", Age: 28},
		},
		{
			name:    "too few fields",
			entry:   "Lin Yan,female",
			wantErr: true,
		},
		{
			name:    "too many fields",
			entry:   "Lin,Yan,female,24",
			wantErr: true,
		},
		{
			name:    "non-numeric age",
			entry:   "Lin Yan,female,young",
			wantErr: true,
		},
		{
			name:    "negative age",
			entry:   "Lin Yan,female,-1",
			wantErr: true,
		},
		{
			name:    "empty name",
			entry:   ",female,24",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCharacter(tt.entry)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCharacter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoster(t *testing.T) {
	roster, err := validRequest().Roster()
	require.NoError(t, err)
	require.Len(t, roster, 4)
	assert.Equal(t, "Lin Yan", roster[0].Name)
	assert.Equal(t, 61, roster[3].Age)
}
