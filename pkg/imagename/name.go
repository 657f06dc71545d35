// Package imagename implements the canonical, derivation-encoding
// identifier used throughout the cache: a content-addressed base, an
// ordered chain of derivation operations, and a format suffix. Two names
// are equal iff their rendered canonical strings are equal — this package
// treats Render as the sole source of truth and never compares structs
// field-by-field for cache-key purposes.
//
// Grounded on the teacher's pkg/image/store.go naming helpers
// (blobFileNameForLayer, digestAndFSTypeFromBlobPath) generalized to the
// full op-chain grammar documented in original_source/src/ImageNames.py.
package imagename

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// OpKind identifies one derivation operation.
type OpKind int

const (
	OpOriginal OpKind = iota
	OpSize
	OpCrop
	OpThumbnail
	OpConvert
	OpMetadata
)

func (k OpKind) String() string {
	switch k {
	case OpOriginal:
		return "original"
	case OpSize:
		return "size"
	case OpCrop:
		return "crop"
	case OpThumbnail:
		return "thumbnail"
	case OpConvert:
		return "convert"
	case OpMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// ThumbnailFlags is the subset of {equalise, liquid, sharpen} active on a
// thumbnail derivation. Rendered as a sorted subset of the letters "els".
type ThumbnailFlags struct {
	Equalise bool
	Liquid   bool
	Sharpen  bool
}

func (f ThumbnailFlags) encode() string {
	var b strings.Builder
	if f.Equalise {
		b.WriteByte('e')
	}
	if f.Liquid {
		b.WriteByte('l')
	}
	if f.Sharpen {
		b.WriteByte('s')
	}
	return b.String()
}

func parseThumbnailFlags(s string) ThumbnailFlags {
	return ThumbnailFlags{
		Equalise: strings.Contains(s, "e"),
		Liquid:   strings.Contains(s, "l"),
		Sharpen:  strings.Contains(s, "s"),
	}
}

// Op is one element of a Name's derivation chain.
type Op struct {
	Kind OpKind

	// size / crop / thumbnail
	W, H int
	// crop offset
	X, Y int
	// thumbnail
	Flags ThumbnailFlags
	// convert target format
	Format string
	// original
	RawName string
	// metadata
	MetaKind string
}

func (op Op) render() string {
	switch op.Kind {
	case OpOriginal:
		return fmt.Sprintf("original(%s)", op.RawName)
	case OpSize:
		return fmt.Sprintf("size(%d,%d)", op.W, op.H)
	case OpCrop:
		return fmt.Sprintf("crop(%d,%d,%d,%d)", op.W, op.H, op.X, op.Y)
	case OpThumbnail:
		return fmt.Sprintf("thumbnail(%d,%d,%s)", op.W, op.H, op.Flags.encode())
	case OpConvert:
		return fmt.Sprintf("convert(%s)", op.Format)
	case OpMetadata:
		return fmt.Sprintf("metadata(%s)", op.MetaKind)
	default:
		return ""
	}
}

// Name is a canonical, immutable image identifier. The zero Name is not
// valid; construct one via Parse, NewBase, or an Apply* method on an
// existing Name.
type Name struct {
	base   string
	ops    []Op
	format string
	clone  bool

	isOriginal bool
	isBase     bool
	isDerived  bool
	isThumb    bool
	isResize   bool
	isConvert  bool
	isMetadata bool
}

// NewBase constructs the Name for an original artifact's base, with no
// operations applied yet.
func NewBase(base, format string) Name {
	return Name{base: base, format: format, isBase: true}
}

// Parse splits s on its last '.' to recover the format suffix, then parses
// the remainder as base("+"op)*.
func Parse(s string) (Name, error) {
	dot := strings.LastIndexByte(s, '.')
	if dot <= 0 || dot == len(s)-1 {
		return Name{}, fmt.Errorf("%w: %q: missing format suffix", ErrMalformedName, s)
	}
	return parseHeadAndFormat(s[:dot], s[dot+1:])
}

// ParseWithFormat parses s as base("+"op)* using the supplied format,
// for callers that already know the format out-of-band (e.g. it was
// supplied separately from the name string).
func ParseWithFormat(s, format string) (Name, error) {
	if format == "" {
		return Name{}, fmt.Errorf("%w: empty format", ErrMalformedName)
	}
	return parseHeadAndFormat(s, format)
}

func parseHeadAndFormat(head, format string) (Name, error) {
	if head == "" {
		return Name{}, fmt.Errorf("%w: empty base", ErrMalformedName)
	}
	components := strings.Split(head, "+")
	n := Name{base: components[0], format: format, isBase: true}
	for _, comp := range components[1:] {
		if err := n.parseOp(comp); err != nil {
			return Name{}, err
		}
	}
	return n, nil
}

func (n *Name) parseOp(comp string) error {
	open := strings.IndexByte(comp, '(')
	if open < 0 || !strings.HasSuffix(comp, ")") {
		return fmt.Errorf("%w: %q: malformed operation", ErrMalformedName, comp)
	}
	opName := comp[:open]
	params := comp[open+1 : len(comp)-1]

	switch opName {
	case "clone":
		n.clone = true
		return nil
	case "original":
		n.ops = append(n.ops, Op{Kind: OpOriginal, RawName: params})
		n.isOriginal = true
		n.isDerived = false
		n.isBase = false
		n.clone = false
		return nil
	case "size":
		parts := strings.Split(params, ",")
		if len(parts) != 2 {
			return fmt.Errorf("%w: size(%s): want 2 args", ErrMalformedName, params)
		}
		w, h, err := parseTwoInts(parts)
		if err != nil {
			return err
		}
		n.ops = append(n.ops, Op{Kind: OpSize, W: w, H: h})
		n.isBase, n.isDerived, n.isResize, n.clone = false, true, true, false
		return nil
	case "crop":
		parts := strings.Split(params, ",")
		if len(parts) != 4 {
			return fmt.Errorf("%w: crop(%s): want 4 args", ErrMalformedName, params)
		}
		vals := make([]int, 4)
		for i, p := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(p))
			if err != nil {
				return fmt.Errorf("%w: crop(%s): %s", ErrMalformedName, params, err)
			}
			vals[i] = v
		}
		n.ops = append(n.ops, Op{Kind: OpCrop, W: vals[0], H: vals[1], X: vals[2], Y: vals[3]})
		n.isBase, n.isDerived, n.clone = false, true, false
		return nil
	case "thumbnail":
		parts := strings.SplitN(params, ",", 3)
		if len(parts) != 3 {
			return fmt.Errorf("%w: thumbnail(%s): want 3 args", ErrMalformedName, params)
		}
		w, h, err := parseTwoInts(parts[:2])
		if err != nil {
			return err
		}
		n.ops = append(n.ops, Op{Kind: OpThumbnail, W: w, H: h, Flags: parseThumbnailFlags(parts[2])})
		n.isBase, n.isDerived, n.isThumb, n.clone = false, true, true, false
		return nil
	case "convert":
		if params == "" {
			return fmt.Errorf("%w: convert(): missing format", ErrMalformedName)
		}
		n.ops = append(n.ops, Op{Kind: OpConvert, Format: params})
		n.isBase, n.isDerived, n.isConvert, n.clone = false, true, true, false
		return nil
	case "metadata":
		if params == "" {
			return fmt.Errorf("%w: metadata(): missing kind", ErrMalformedName)
		}
		n.ops = append(n.ops, Op{Kind: OpMetadata, MetaKind: params})
		n.isBase, n.isDerived, n.isMetadata, n.clone = false, true, true, false
		return nil
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrMalformedName, opName)
	}
}

func parseTwoInts(parts []string) (int, int, error) {
	a, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrMalformedName, err)
	}
	b, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrMalformedName, err)
	}
	return a, b, nil
}

func (n Name) cloneOps() []Op {
	out := make([]Op, len(n.ops))
	copy(out, n.ops)
	return out
}

// Clone marks the name with a transient clone() marker, used internally by
// the derivation engine to avoid aliasing a Handle while applying ops. The
// marker is stripped the moment any Apply* method is called.
func (n Name) Clone() Name {
	out := n
	out.ops = n.cloneOps()
	out.clone = true
	return out
}

// ApplyOriginal marks the name as the untransformed original carrying the
// user-supplied filename, percent-encoded so no reserved characters leak
// into the canonical form.
func (n Name) ApplyOriginal(rawName string) Name {
	out := n
	out.ops = append(n.cloneOps(), Op{Kind: OpOriginal, RawName: EncodeRawName(rawName)})
	out.clone = false
	out.isOriginal = true
	out.isDerived = false
	out.isBase = false
	return out
}

// ApplySize appends a resize operation. If format is non-empty it overrides
// the current format; otherwise the format is left unchanged.
func (n Name) ApplySize(w, h int, format string) Name {
	out := n
	out.ops = append(n.cloneOps(), Op{Kind: OpSize, W: w, H: h})
	out.clone = false
	out.isBase = false
	out.isDerived = true
	out.isResize = true
	if format != "" {
		out.format = format
	}
	return out
}

// ApplyCrop appends a crop operation cropping a w*h box from (x,y).
func (n Name) ApplyCrop(w, h, x, y int, format string) Name {
	out := n
	out.ops = append(n.cloneOps(), Op{Kind: OpCrop, W: w, H: h, X: x, Y: y})
	out.clone = false
	out.isBase = false
	out.isDerived = true
	if format != "" {
		out.format = format
	}
	return out
}

// ApplyThumbnail appends a thumbnail operation. format, if non-empty,
// overrides the current format (callers typically pass the thumbnail
// policy's configured default format).
func (n Name) ApplyThumbnail(w, h int, flags ThumbnailFlags, format string) Name {
	out := n
	out.ops = append(n.cloneOps(), Op{Kind: OpThumbnail, W: w, H: h, Flags: flags})
	out.clone = false
	out.isBase = false
	out.isDerived = true
	out.isThumb = true
	if format != "" {
		out.format = format
	}
	return out
}

// ApplyConvert appends a format-conversion operation, unless the name is
// already derived by some other operation — matching the original's
// "convert is a no-op once another derivation step exists" rule, since the
// Derivation Engine only needs apply_convert to give itself something to do
// when a base is requested in a non-native format (spec.md §4.4 step 3).
func (n Name) ApplyConvert(format string) Name {
	if n.isDerived {
		return n
	}
	out := n
	out.ops = append(n.cloneOps(), Op{Kind: OpConvert, Format: format})
	out.clone = false
	out.isBase = false
	out.isDerived = true
	out.isConvert = true
	out.format = format
	return out
}

// ApplyMetadata replaces any existing operation chain with a single
// metadata-extraction operation; the result does not yield an image.
func (n Name) ApplyMetadata(kind string) Name {
	out := n
	out.ops = []Op{{Kind: OpMetadata, MetaKind: kind}}
	out.clone = false
	out.isBase = false
	out.isDerived = true
	out.isMetadata = true
	out.format = kind
	return out
}

// Render returns the canonical string form: base("+"op)*"."format.
func (n Name) Render() string {
	var b strings.Builder
	b.WriteString(n.base)
	if len(n.ops) > 0 {
		for _, op := range n.ops {
			b.WriteByte('+')
			b.WriteString(op.render())
		}
	} else if n.clone {
		b.WriteString("+clone()")
	}
	b.WriteByte('.')
	b.WriteString(n.format)
	return b.String()
}

// Equal reports whether two names render identically.
func (n Name) Equal(other Name) bool { return n.Render() == other.Render() }

// BaseName returns the base component, excluding operations and format.
func (n Name) BaseName() string { return n.base }

// Format returns the image format suffix.
func (n Name) Format() string { return n.format }

// Master returns base.format with no operations — the name of the original.
func (n Name) Master() string { return n.base + "." + n.format }

// Ops returns the ordered operation chain. The caller must not mutate the
// returned slice.
func (n Name) Ops() []Op { return n.ops }

func (n Name) IsOriginal() bool { return n.isOriginal }
func (n Name) IsBase() bool     { return n.isBase }
func (n Name) IsDerived() bool  { return n.isDerived }
func (n Name) IsThumbnail() bool { return n.isThumb }
func (n Name) IsResize() bool   { return n.isResize }
func (n Name) IsConvert() bool  { return n.isConvert }
func (n Name) IsMetadata() bool { return n.isMetadata }

// IsPermanentByPolicy reports whether name policy requires the artifact to
// survive in persistent storage: true for a master artifact with no
// derivation ops (is_base) and for one explicitly tagged original() with
// the raw uploaded filename.
func IsPermanentByPolicy(n Name) bool { return n.IsBase() || n.IsOriginal() }

// ShouldRetainByPolicy reports whether eviction should deprioritize the
// artifact: true for thumbnails.
func ShouldRetainByPolicy(n Name) bool { return n.IsThumbnail() }

// SafeFileName percent-encodes a rendered canonical name with no safe
// characters, for use as a local-file tier filename (spec.md §4.3: "names
// are URL-quoted with no safe characters so they contain no path
// separators").
func SafeFileName(rendered string) string {
	var b strings.Builder
	for i := 0; i < len(rendered); i++ {
		c := rendered[i]
		if isUnreserved(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// UnsafeFileName reverses SafeFileName.
func UnsafeFileName(safe string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(safe); i++ {
		if safe[i] == '%' {
			if i+2 >= len(safe) {
				return "", fmt.Errorf("%w: truncated percent-encoding in %q", ErrMalformedName, safe)
			}
			var v int
			if _, err := fmt.Sscanf(safe[i+1:i+3], "%02X", &v); err != nil {
				return "", fmt.Errorf("%w: bad percent-encoding in %q", ErrMalformedName, safe)
			}
			b.WriteByte(byte(v))
			i += 2
		} else {
			b.WriteByte(safe[i])
		}
	}
	return b.String(), nil
}

// EncodeRawName percent-encodes a raw, user-supplied filename so it cannot
// introduce reserved characters (in particular '+', '(', ')', '.') into the
// canonical name once embedded inside original(...).
func EncodeRawName(raw string) string {
	var b strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if isUnreserved(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '~':
		return true
	default:
		return false
	}
}

// sortedFlagLetters is exposed for tests that want to assert the canonical
// ordering of thumbnail flags without depending on ThumbnailFlags' field
// order.
func sortedFlagLetters(s string) string {
	r := []byte(s)
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return string(r)
}
