package feed

import (
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ParseFrame extracts trade ticks from one inbound frame.
//
// Frames look like {"type":"trade","data":[{"p":101.5,"s":"BTCUSDT","t":1700000000000,"v":0.2}]}.
// Other frame types (ping, error, subscription acks) yield nothing. Entries without a
// symbol or with a non-numeric price or timestamp are counted in dropped and skipped.
func ParseFrame(frame []byte) (ticks []Tick, dropped int) {
	if !gjson.ValidBytes(frame) {
		return nil, 1
	}

	root := gjson.ParseBytes(frame)
	if root.Get("type").String() != "trade" {
		return nil, 0
	}

	data := root.Get("data")
	if !data.IsArray() {
		return nil, 1
	}

	data.ForEach(func(_, entry gjson.Result) bool {
		tick, ok := parseTrade(entry)
		if !ok {
			dropped++
			return true
		}
		ticks = append(ticks, tick)
		return true
	})

	return ticks, dropped
}

func parseTrade(entry gjson.Result) (Tick, bool) {
	symbol := strings.ToUpper(strings.TrimSpace(entry.Get("s").String()))
	price := entry.Get("p")
	ts := entry.Get("t")

	if symbol == "" || price.Type != gjson.Number || ts.Type != gjson.Number {
		return Tick{}, false
	}
	if !finite(price.Float()) || !finite(ts.Float()) {
		return Tick{}, false
	}

	var volume float64
	if v := entry.Get("v"); v.Type == gjson.Number && finite(v.Float()) {
		volume = v.Float()
	}

	return Tick{
		Symbol: symbol,
		Price:  price.Float(),
		Ts:     time.UnixMilli(ts.Int()),
		Volume: volume,
	}, true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
