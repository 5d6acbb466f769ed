package profiler

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/liberty-specpriv/specpriv/pkg/ctxau"
)

// ObjectInfo is one AU's complete profile entry: its lifetime statistics,
// any converged value prediction, and its accumulated pointer residue.
type ObjectInfo struct {
	ID             string
	Allocations    uint64
	MeanLifetime   float64
	MaxLifetime    uint64
	Classification Classification

	PredictionValid bool
	PredictedValue  int64

	Residue Residue
}

// Report is the complete set of per-AU entries produced by one profiling
// run, in the form the textual profile format serializes.
type Report struct {
	Objects []ObjectInfo
}

// BuildReport snapshots p's accumulated statistics into a Report. Callers
// should call Profiler.FinalizeLiveObjects first so still-live allocations
// are correctly excluded from a short-lived verdict.
func BuildReport(p *Profiler) *Report {
	r := &Report{}

	for _, s := range p.sites {
		r.Objects = append(r.Objects, ObjectInfo{
			ID:              s.au.String(),
			Allocations:     s.allocations,
			MeanLifetime:    s.meanLifetime(),
			MaxLifetime:     s.maxLife,
			Classification:  s.classify(),
			PredictionValid: s.predictionSet && s.predictionOK,
			PredictedValue:  s.predicted,
			Residue:         s.residue,
		})
	}

	sort.Slice(r.Objects, func(i, j int) bool { return r.Objects[i].ID < r.Objects[j].ID })

	return r
}

// Lookup returns the entry whose ID equals au.String() exactly. It does no
// Ctx matching: an entry recorded under a different but matching Ctx
// (in the sense of ctxau.AU.Equal) is not found.
func (r *Report) Lookup(au *ctxau.AU) (ObjectInfo, bool) {
	want := au.String()
	for _, o := range r.Objects {
		if o.ID == want {
			return o, true
		}
	}

	return ObjectInfo{}, false
}

// WriteTo serializes r in the textual profile format.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	written := 0

	emit := func(format string, args ...interface{}) {
		n, _ := fmt.Fprintf(bw, format+"\n", args...)
		written += n
	}

	emit("BEGIN SPEC PRIV PROFILE")
	emit("COMPLETE ALLOCATION INFO")
	emit("%d", len(r.Objects))

	for _, o := range r.Objects {
		emit("LOCAL OBJECT %s %d %f %d %s",
			escapeField(o.ID), o.Allocations, o.MeanLifetime, o.MaxLifetime, o.Classification)
	}

	for _, o := range r.Objects {
		if o.PredictionValid {
			emit("PRED OBJ %s VALID", escapeField(o.ID))
			emit("PRED VAL %s %d", escapeField(o.ID), o.PredictedValue)
		} else {
			emit("PRED OBJ %s INVALID", escapeField(o.ID))
			emit("PRED INT %s %d", escapeField(o.ID), int64(MagicInvalid))
		}
	}

	for _, o := range r.Objects {
		if !o.Residue.Empty() {
			emit("PTR RESIDUES %s %04x", escapeField(o.ID), uint16(o.Residue))
		}
	}

	emit("END SPEC PRIV PROFILE")

	if err := bw.Flush(); err != nil {
		return int64(written), err
	}

	return int64(written), nil
}

// escapeField makes an AU's textual identity safe for the
// whitespace-delimited format: a backslash becomes `\\` and a space becomes
// `\_`, so unescapeField restores the exact original, including any
// underscores it already held.
func escapeField(s string) string {
	return strings.NewReplacer(`\`, `\\`, " ", `\_`).Replace(s)
}

func unescapeField(s string) string {
	var b strings.Builder

	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			if s[i] == '_' {
				b.WriteByte(' ')

				continue
			}
		}

		b.WriteByte(s[i])
	}

	return b.String()
}

// ReadReport parses the textual profile format produced by WriteTo.
func ReadReport(r io.Reader) (*Report, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	byID := map[string]*ObjectInfo{}
	order := []string{}

	get := func(id string) *ObjectInfo {
		o, ok := byID[id]
		if !ok {
			o = &ObjectInfo{ID: id}
			byID[id] = o
			order = append(order, id)
		}

		return o
	}

	sawBegin, sawEnd := false, false

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)

		switch {
		case line == "BEGIN SPEC PRIV PROFILE":
			sawBegin = true
		case line == "END SPEC PRIV PROFILE":
			sawEnd = true
		case line == "COMPLETE ALLOCATION INFO":
			// count line follows; ignored, len(Objects) is authoritative
		case len(fields) == 1:
			// the bare allocation count
		case fields[0] == "LOCAL" && fields[1] == "OBJECT":
			if len(fields) != 7 {
				return nil, fmt.Errorf("profiler: malformed LOCAL OBJECT line %q", line)
			}

			o := get(unescapeField(fields[2]))
			o.Allocations, _ = strconv.ParseUint(fields[3], 10, 64)
			o.MeanLifetime, _ = strconv.ParseFloat(fields[4], 64)
			o.MaxLifetime, _ = strconv.ParseUint(fields[5], 10, 64)
			o.Classification = parseClassification(fields[6])
		case fields[0] == "PRED" && fields[1] == "OBJ":
			if len(fields) != 4 {
				return nil, fmt.Errorf("profiler: malformed PRED OBJ line %q", line)
			}

			get(unescapeField(fields[2])).PredictionValid = fields[3] == "VALID"
		case fields[0] == "PRED" && fields[1] == "VAL":
			if len(fields) != 4 {
				return nil, fmt.Errorf("profiler: malformed PRED VAL line %q", line)
			}

			v, _ := strconv.ParseInt(fields[3], 10, 64)
			get(unescapeField(fields[2])).PredictedValue = v
		case fields[0] == "PRED" && fields[1] == "INT":
			// MAGIC_INVALID marker; nothing to record beyond PredictionValid=false.
		case fields[0] == "PTR" && fields[1] == "RESIDUES":
			if len(fields) != 4 {
				return nil, fmt.Errorf("profiler: malformed PTR RESIDUES line %q", line)
			}

			v, _ := strconv.ParseUint(fields[3], 16, 16)
			get(unescapeField(fields[2])).Residue = Residue(v)
		}
	}

	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("profiler: scanning report: %w", err)
	}

	if !sawBegin || !sawEnd {
		return nil, fmt.Errorf("profiler: report missing BEGIN/END SPEC PRIV PROFILE markers")
	}

	out := &Report{}
	for _, id := range order {
		out.Objects = append(out.Objects, *byID[id])
	}

	return out, nil
}

func parseClassification(s string) Classification {
	switch s {
	case "SHORT_LIVED":
		return ShortLived
	case "LONG_LIVED":
		return LongLived
	default:
		return Unknown
	}
}

// Save writes r to path atomically: it writes to path+".tmp" and renames
// over path, so a reader never observes a partially-written profile.
func (r *Report) Save(path string) error {
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("profiler: create %s: %w", tmp, err)
	}

	if _, err := r.WriteTo(f); err != nil {
		f.Close()
		os.Remove(tmp)

		return fmt.Errorf("profiler: write %s: %w", tmp, err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)

		return fmt.Errorf("profiler: fsync %s: %w", tmp, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)

		return fmt.Errorf("profiler: close %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("profiler: rename %s to %s: %w", tmp, path, err)
	}

	return nil
}

// Load reads a Report previously written by Save.
func Load(path string) (*Report, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("profiler: open %s: %w", path, err)
	}
	defer f.Close()

	return ReadReport(f)
}
