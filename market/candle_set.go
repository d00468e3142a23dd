package market

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Exported bar files stamp times in EST without daylight saving.
var estNoDST = time.FixedZone("EST", -5*60*60)

const layout = "20060102 150405"

// CandleSet is a time-ordered series of bars read from a semicolon separated
// file: "time;open;high;low;close[;volume]".
type CandleSet struct {
	Filepath string
	Candles  []Candle

	Duplicates int
	BadLines   int
}

// ReadCandleFile loads a CandleSet from fname.
func ReadCandleFile(fname string) (*CandleSet, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cs, err := ReadCandles(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fname, err)
	}
	cs.Filepath = fname
	return cs, nil
}

// ReadCandles parses bars from r. Header lines and malformed rows are
// counted and skipped. The first bar seen for a timestamp wins.
func ReadCandles(r io.Reader) (*CandleSet, error) {
	cs := &CandleSet{}
	seen := make(map[int64]struct{})

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(strings.ToLower(line), "time;") {
			continue
		}
		c, err := parseCandle(line)
		if err != nil {
			cs.BadLines++
			continue
		}
		ts := c.Time.Unix()
		if _, dup := seen[ts]; dup {
			cs.Duplicates++
			continue
		}
		seen[ts] = struct{}{}
		cs.Candles = append(cs.Candles, c)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(cs.Candles, func(i, j int) bool {
		return cs.Candles[i].Time.Before(cs.Candles[j].Time)
	})
	return cs, nil
}

func parseCandle(line string) (Candle, error) {
	parts := strings.Split(line, ";")
	if len(parts) < 5 {
		return Candle{}, fmt.Errorf("want at least 5 fields, got %d", len(parts))
	}
	t, err := time.ParseInLocation(layout, strings.TrimSpace(parts[0]), estNoDST)
	if err != nil {
		return Candle{}, err
	}

	var v [5]float64
	n := 4
	if len(parts) > 5 {
		n = 5
	}
	for i := 0; i < n; i++ {
		if v[i], err = strconv.ParseFloat(strings.TrimSpace(parts[i+1]), 64); err != nil {
			return Candle{}, err
		}
	}
	c := Candle{Time: t.UTC(), Open: v[0], High: v[1], Low: v[2], Close: v[3], Volume: v[4]}
	if c.High < c.Low || c.Close <= 0 {
		return Candle{}, fmt.Errorf("inconsistent bar at %s", parts[0])
	}
	return c, nil
}

func (cs *CandleSet) Len() int { return len(cs.Candles) }

// Iterator walks the set from the first bar.
type Iterator struct {
	cs  *CandleSet
	idx int
}

func (cs *CandleSet) Iterator() *Iterator {
	return &Iterator{cs: cs, idx: -1}
}

func (it *Iterator) Next() bool {
	if it.idx+1 >= len(it.cs.Candles) {
		return false
	}
	it.idx++
	return true
}

func (it *Iterator) Candle() Candle {
	return it.cs.Candles[it.idx]
}

func (it *Iterator) Index() int {
	return it.idx
}
