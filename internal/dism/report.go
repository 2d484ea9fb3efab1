package dism

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	banner   = "Deployment Image Servicing and Management tool"
	sentinel = "The operation completed successfully."
)

// Grammar identifies one of the report formats printed by DISM.
type Grammar int

const (
	GrammarImageInfo Grammar = iota + 1
	GrammarCapabilities
)

func (g Grammar) String() string {
	switch g {
	case GrammarImageInfo:
		return "image info"
	case GrammarCapabilities:
		return "capability listing"
	default:
		return fmt.Sprintf("grammar(%d)", int(g))
	}
}

// Image describes one edition stored in an image file.
type Image struct {
	Index       int
	Name        string
	Description string
	SizeBytes   uint64
}

// ImageInfo is the parsed output of /get-imageinfo.
type ImageInfo struct {
	ToolVersion string
	ImageFile   string
	Images      []Image
}

type CapabilityState string

const (
	StateInstalled  CapabilityState = "Installed"
	StateNotPresent CapabilityState = "Not Present"
	StateStaged     CapabilityState = "Staged"
)

// Capability is one entry of a capability listing. States other than the
// ones declared above are kept verbatim.
type Capability struct {
	ID    string
	State CapabilityState
}

// CapabilityListing is the parsed output of /get-capabilities.
type CapabilityListing struct {
	ToolVersion  string
	ImageVersion string
	Capabilities []Capability
}

// Parse parses report with the given grammar. The result is an *ImageInfo
// or a *CapabilityListing.
func Parse(report string, grammar Grammar) (interface{}, error) {
	switch grammar {
	case GrammarImageInfo:
		return ParseImageInfo(report)
	case GrammarCapabilities:
		return ParseCapabilities(report)
	default:
		return nil, fmt.Errorf("unknown report grammar %s", grammar)
	}
}

// ParseImageInfo parses the complete standard output of
// `dism /english /get-imageinfo`. The report has to match the grammar
// exactly; there is no partial result.
func ParseImageInfo(report string) (*ImageInfo, error) {
	r, err := newLineReader(GrammarImageInfo, report)
	if err != nil {
		return nil, err
	}

	info := &ImageInfo{}
	if info.ToolVersion, err = r.envelope(); err != nil {
		return nil, err
	}
	if info.ImageFile, err = r.field("Details for image : "); err != nil {
		return nil, err
	}
	if err := r.expect(""); err != nil {
		return nil, err
	}

	err = r.blocks("Index : ", func() error {
		img, err := r.imageBlock()
		if err != nil {
			return err
		}
		info.Images = append(info.Images, img)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return info, nil
}

// ParseCapabilities parses the complete standard output of
// `dism /english /get-capabilities`.
func ParseCapabilities(report string) (*CapabilityListing, error) {
	r, err := newLineReader(GrammarCapabilities, report)
	if err != nil {
		return nil, err
	}

	listing := &CapabilityListing{}
	if listing.ToolVersion, err = r.envelope(); err != nil {
		return nil, err
	}
	if listing.ImageVersion, err = r.field("Image Version: "); err != nil {
		return nil, err
	}
	for _, line := range []string{"", "Capability listing:", ""} {
		if err := r.expect(line); err != nil {
			return nil, err
		}
	}

	err = r.blocks("Capability Identity : ", func() error {
		c, err := r.capabilityBlock()
		if err != nil {
			return err
		}
		listing.Capabilities = append(listing.Capabilities, c)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return listing, nil
}

// lineReader walks a report line by line exactly once.
type lineReader struct {
	grammar Grammar
	raw     string
	lines   []string
	pos     int
}

func newLineReader(grammar Grammar, report string) (*lineReader, error) {
	r := &lineReader{grammar: grammar, raw: report}
	if report == "" {
		return nil, r.errorAt(1, "empty report")
	}
	if !strings.HasSuffix(report, "\n") {
		return nil, r.errorAt(strings.Count(report, "\n")+1, "report does not end with a newline")
	}
	r.lines = strings.Split(strings.TrimSuffix(report, "\n"), "\n")
	for i, line := range r.lines {
		if strings.ContainsRune(line, '\r') {
			return nil, r.errorAt(i+1, "unexpected carriage return")
		}
	}
	return r, nil
}

func (r *lineReader) errorAt(line int, format string, args ...interface{}) error {
	return &ParseError{
		Grammar: r.grammar,
		Line:    line,
		Reason:  fmt.Sprintf(format, args...),
		Raw:     r.raw,
	}
}

func (r *lineReader) errorf(format string, args ...interface{}) error {
	return r.errorAt(r.pos+1, format, args...)
}

func (r *lineReader) next() (string, bool) {
	if r.pos >= len(r.lines) {
		return "", false
	}
	line := r.lines[r.pos]
	r.pos++
	return line, true
}

func (r *lineReader) expect(want string) error {
	line, ok := r.next()
	if !ok {
		return r.errorf("unexpected end of report, expected %q", want)
	}
	if line != want {
		r.pos--
		return r.errorf("expected %q, got %q", want, line)
	}
	return nil
}

// field consumes one "<label><value>" line and returns the value.
func (r *lineReader) field(label string) (string, error) {
	line, ok := r.next()
	if !ok {
		return "", r.errorf("unexpected end of report, expected %q", label)
	}
	if !strings.HasPrefix(line, label) {
		r.pos--
		return "", r.errorf("expected %q, got %q", label, line)
	}
	return strings.TrimPrefix(line, label), nil
}

func (r *lineReader) envelope() (string, error) {
	if err := r.expect(""); err != nil {
		return "", err
	}
	if err := r.expect(banner); err != nil {
		return "", err
	}
	version, err := r.field("Version: ")
	if err != nil {
		return "", err
	}
	if err := r.expect(""); err != nil {
		return "", err
	}
	return version, nil
}

// blocks consumes zero or more blocks starting with the label first, then
// the success sentinel, which has to be the last line.
func (r *lineReader) blocks(first string, block func() error) error {
	for {
		if r.pos >= len(r.lines) {
			return r.errorf("unexpected end of report, expected %q", sentinel)
		}
		line := r.lines[r.pos]
		if line == sentinel {
			r.pos++
			if r.pos < len(r.lines) {
				return r.errorf("unexpected content after %q: %q", sentinel, r.lines[r.pos])
			}
			return nil
		}
		if !strings.HasPrefix(line, first) {
			return r.errorf("expected %q or %q, got %q", first, sentinel, line)
		}
		if err := block(); err != nil {
			return err
		}
	}
}

func (r *lineReader) imageBlock() (Image, error) {
	var img Image

	value, err := r.field("Index : ")
	if err != nil {
		return img, err
	}
	index, err := strconv.ParseUint(value, 10, 31)
	if err != nil || index == 0 {
		r.pos--
		return img, r.errorf("invalid index %q", value)
	}
	img.Index = int(index)

	if img.Name, err = r.field("Name : "); err != nil {
		return img, err
	}
	if img.Description, err = r.field("Description : "); err != nil {
		return img, err
	}

	value, err = r.field("Size : ")
	if err != nil {
		return img, err
	}
	if !strings.HasSuffix(value, " bytes") {
		r.pos--
		return img, r.errorf("size %q does not end with \" bytes\"", value)
	}
	if img.SizeBytes, err = parseSize(strings.TrimSuffix(value, " bytes")); err != nil {
		r.pos--
		return img, r.errorf("invalid size %q", value)
	}

	return img, r.expect("")
}

func (r *lineReader) capabilityBlock() (Capability, error) {
	var c Capability

	id, err := r.field("Capability Identity : ")
	if err != nil {
		return c, err
	}
	state, err := r.field("State : ")
	if err != nil {
		return c, err
	}
	c.ID = id
	c.State = CapabilityState(state)

	return c, r.expect("")
}

// parseSize accepts plain decimal digits or digits grouped by commas in
// threes, the way the English locale prints byte counts.
func parseSize(s string) (uint64, error) {
	digits := s
	if strings.Contains(s, ",") {
		groups := strings.Split(s, ",")
		if len(groups[0]) < 1 || len(groups[0]) > 3 {
			return 0, fmt.Errorf("malformed digit group in %q", s)
		}
		for _, g := range groups[1:] {
			if len(g) != 3 {
				return 0, fmt.Errorf("malformed digit group in %q", s)
			}
		}
		digits = strings.Join(groups, "")
	}
	return strconv.ParseUint(digits, 10, 64)
}
