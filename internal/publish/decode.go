package publish

import (
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"

	"homework_bot/internal/errdefs"
)

const (
	minDetectorConfidence = 0.8
	encodingUTF8          = "utf-8"
	encodingLegacy        = "windows-1251"
)

// Detector guesses the charset of raw bytes. Confidence is in [0, 1].
type Detector interface {
	Detect(b []byte) (charset string, confidence float64, err error)
}

type chardetDetector struct {
	d *chardet.Detector
}

func NewChardetDetector() Detector {
	return &chardetDetector{d: chardet.NewTextDetector()}
}

func (c *chardetDetector) Detect(b []byte) (string, float64, error) {
	res, err := c.d.DetectBest(b)
	if err != nil {
		return "", 0, err
	}
	return res.Charset, float64(res.Confidence) / 100, nil
}

type Decoder struct {
	detector Detector
}

func NewDecoder(detector Detector) *Decoder {
	return &Decoder{detector: detector}
}

// Candidates lists the encodings tried for b, most trusted first: the
// detected charset when the detector is confident, then UTF-8, then
// windows-1251.
func (d *Decoder) Candidates(b []byte) []string {
	var out []string
	if d.detector != nil {
		if charset, confidence, err := d.detector.Detect(b); err == nil && charset != "" && confidence > minDetectorConfidence {
			out = append(out, strings.ToLower(charset))
		}
	}
	for _, enc := range []string{encodingUTF8, encodingLegacy} {
		if !slices.Contains(out, enc) {
			out = append(out, enc)
		}
	}
	return out
}

// Decode returns b as text in the first candidate encoding that decodes it
// cleanly, and the name of that encoding.
func (d *Decoder) Decode(b []byte) (string, string, error) {
	var errs []string
	for _, enc := range d.Candidates(b) {
		text, err := decodeStrict(b, enc)
		if err == nil {
			return text, enc, nil
		}
		errs = append(errs, fmt.Sprintf("%s: %v", enc, err))
	}
	return "", "", fmt.Errorf("%w: %s", errdefs.ErrContent, strings.Join(errs, "; "))
}

func decodeStrict(b []byte, name string) (string, error) {
	var text string
	if name == encodingUTF8 {
		if !utf8.Valid(b) {
			return "", fmt.Errorf("invalid byte sequence")
		}
		text = string(b)
	} else {
		enc, err := htmlindex.Get(name)
		if err != nil {
			return "", fmt.Errorf("unsupported encoding")
		}
		out, err := enc.NewDecoder().Bytes(b)
		if err != nil {
			return "", err
		}
		text = string(out)
	}

	for _, r := range text {
		if r == utf8.RuneError {
			return "", fmt.Errorf("undecodable bytes")
		}
		if unicode.IsControl(r) && !strings.ContainsRune("\t\n\r\f\v", r) {
			return "", fmt.Errorf("control character %U", r)
		}
	}
	return text, nil
}
