package publish

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homework_bot/internal/errdefs"
)

type stubDetector struct {
	charset    string
	confidence float64
	err        error
}

func (d stubDetector) Detect([]byte) (string, float64, error) {
	return d.charset, d.confidence, d.err
}

// "привет" in windows-1251
var cp1251Hello = []byte{0xef, 0xf0, 0xe8, 0xe2, 0xe5, 0xf2}

func TestDecoder_Candidates(t *testing.T) {
	tests := []struct {
		name     string
		detector Detector
		want     []string
	}{
		{"Confident", stubDetector{charset: "KOI8-R", confidence: 0.93}, []string{"koi8-r", "utf-8", "windows-1251"}},
		{"NotConfident", stubDetector{charset: "KOI8-R", confidence: 0.8}, []string{"utf-8", "windows-1251"}},
		{"DetectedUTF8", stubDetector{charset: "UTF-8", confidence: 1}, []string{"utf-8", "windows-1251"}},
		{"DetectedLegacy", stubDetector{charset: "windows-1251", confidence: 0.9}, []string{"windows-1251", "utf-8"}},
		{"DetectorError", stubDetector{err: errors.New("no guess")}, []string{"utf-8", "windows-1251"}},
		{"NoDetector", nil, []string{"utf-8", "windows-1251"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewDecoder(tt.detector).Candidates([]byte("x")))
		})
	}
}

func TestDecoder_Decode(t *testing.T) {
	t.Run("UTF8WinsOverWeakGuess", func(t *testing.T) {
		d := NewDecoder(stubDetector{charset: "windows-1252", confidence: 0.4})
		text, enc, err := d.Decode([]byte("print('привет')\n"))
		require.NoError(t, err)
		assert.Equal(t, "utf-8", enc)
		assert.Equal(t, "print('привет')\n", text)
	})

	t.Run("FallsBackToLegacy", func(t *testing.T) {
		d := NewDecoder(stubDetector{})
		text, enc, err := d.Decode(cp1251Hello)
		require.NoError(t, err)
		assert.Equal(t, "windows-1251", enc)
		assert.Equal(t, "привет", text)
	})

	t.Run("ConfidentGuessFirst", func(t *testing.T) {
		d := NewDecoder(stubDetector{charset: "windows-1251", confidence: 0.99})
		_, enc, err := d.Decode([]byte("print(1)"))
		require.NoError(t, err)
		assert.Equal(t, "windows-1251", enc)
	})

	t.Run("AllCandidatesFail", func(t *testing.T) {
		d := NewDecoder(stubDetector{charset: "ISO-8859-2", confidence: 0.95})
		_, _, err := d.Decode([]byte{0x98, 0x98})
		assert.ErrorIs(t, err, errdefs.ErrContent)
	})

	t.Run("KeepsWhitespace", func(t *testing.T) {
		d := NewDecoder(nil)
		text, _, err := d.Decode([]byte("a\tb\r\nc"))
		require.NoError(t, err)
		assert.Equal(t, "a\tb\r\nc", text)
	})
}
