// Package drills loads curated training positions from drill packs:
// CSV files, optionally zstd- or gzip-compressed, one position per row.
package drills

import (
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/freeeve/endgametrainer/internal/fen"
)

// ErrNoDrills is returned when a lookup matches nothing.
var ErrNoDrills = errors.New("no drills available")

// Drill is one curated training position.
type Drill struct {
	Name       string `json:"name"`
	FEN        string `json:"fen"`
	PlayerSide byte   `json:"-"`
	Side       string `json:"side"`
	Theme      string `json:"theme"` // e.g. "KRK", "KPK", "KQK"
	Difficulty int    `json:"difficulty"`
}

// Library is an in-memory drill collection, indexed by theme.
type Library struct {
	mu      sync.RWMutex
	drills  []Drill
	byTheme map[string][]int
	log     zerolog.Logger
}

// NewLibrary returns an empty library.
func NewLibrary(log zerolog.Logger) *Library {
	return &Library{
		byTheme: make(map[string][]int),
		log:     log,
	}
}

// LoadDir loads every drill pack in dir (.csv, .csv.zst, .csv.gz) and
// returns the number of drills added. A missing directory is not an
// error: the trainer runs fine with an empty library.
func (l *Library) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	total := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".csv") &&
			!strings.HasSuffix(name, ".csv.zst") &&
			!strings.HasSuffix(name, ".csv.gz") {
			continue
		}
		path := filepath.Join(dir, name)
		n, err := l.LoadFile(path)
		if err != nil {
			l.log.Warn().Err(err).Str("pack", name).Msg("skipping drill pack")
			continue
		}
		l.log.Info().Str("pack", name).Int("drills", n).Msg("drill pack loaded")
		total += n
	}
	return total, nil
}

// LoadFile loads one drill pack. Rows that fail validation are skipped,
// not fatal; a pack with a torn compressed tail yields what was readable.
//
// Columns: name, fen, side, theme, difficulty.
func (l *Library) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return 0, err
		}
		defer zr.Close()
		reader = zr
	} else if strings.HasSuffix(path, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return 0, err
		}
		defer gr.Close()
		reader = gr
	}

	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1

	// Skip header
	if _, err := csvReader.Read(); err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for {
		row, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Incomplete compressed frame: keep what we have.
			if strings.Contains(err.Error(), "EOF") || strings.Contains(err.Error(), "unexpected") {
				break
			}
			continue
		}

		d, err := parseRow(row)
		if err != nil {
			l.log.Debug().Err(err).Strs("row", row).Msg("skipping drill row")
			continue
		}

		l.mu.Lock()
		idx := len(l.drills)
		l.drills = append(l.drills, d)
		l.byTheme[d.Theme] = append(l.byTheme[d.Theme], idx)
		l.mu.Unlock()
		count++
	}

	return count, nil
}

func parseRow(row []string) (Drill, error) {
	if len(row) < 5 {
		return Drill{}, fmt.Errorf("want 5 columns, got %d", len(row))
	}

	fenStr := strings.TrimSpace(row[1])
	if _, err := fen.Normalize(fenStr); err != nil {
		return Drill{}, err
	}

	side := strings.TrimSpace(strings.ToLower(row[2]))
	if side != "w" && side != "b" {
		return Drill{}, fmt.Errorf("bad side %q", row[2])
	}

	difficulty, err := strconv.Atoi(strings.TrimSpace(row[4]))
	if err != nil || difficulty < 1 || difficulty > 5 {
		return Drill{}, fmt.Errorf("bad difficulty %q", row[4])
	}

	return Drill{
		Name:       strings.TrimSpace(row[0]),
		FEN:        fenStr,
		PlayerSide: side[0],
		Side:       side,
		Theme:      strings.TrimSpace(strings.ToUpper(row[3])),
		Difficulty: difficulty,
	}, nil
}

// Count returns the number of loaded drills.
func (l *Library) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.drills)
}

// Themes lists the loaded themes.
func (l *Library) Themes() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.byTheme))
	for theme := range l.byTheme {
		out = append(out, theme)
	}
	return out
}

// All returns a copy of every loaded drill.
func (l *Library) All() []Drill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Drill, len(l.drills))
	copy(out, l.drills)
	return out
}

// ByTheme returns the drills for one theme.
func (l *Library) ByTheme(theme string) []Drill {
	theme = strings.ToUpper(theme)
	l.mu.RLock()
	defer l.mu.RUnlock()
	idxs := l.byTheme[theme]
	out := make([]Drill, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, l.drills[i])
	}
	return out
}

// Random picks a random drill, restricted to theme when non-empty.
func (l *Library) Random(theme string) (Drill, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if theme != "" {
		idxs := l.byTheme[strings.ToUpper(theme)]
		if len(idxs) == 0 {
			return Drill{}, fmt.Errorf("%w: theme %q", ErrNoDrills, theme)
		}
		return l.drills[idxs[rand.Intn(len(idxs))]], nil
	}

	if len(l.drills) == 0 {
		return Drill{}, ErrNoDrills
	}
	return l.drills[rand.Intn(len(l.drills))], nil
}
