// Package indicator computes technical indicators over ordered OHLCV
// windows. All functions are pure: the same window always produces the
// same aligned Series, and a window shorter than the required lookback
// returns models.ErrInsufficientData instead of fabricated values.
package indicator

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"quantcore/internal/models"
)

// Series holds indicator values aligned to candle indices. Values[0]
// belongs to candle index Offset; earlier candles have no defined value.
type Series struct {
	Offset int
	Values []float64
}

// Last returns the value aligned to the final candle of the window.
func (s Series) Last() float64 {
	return s.Values[len(s.Values)-1]
}

// At returns the value aligned to candle index i, and whether one exists.
func (s Series) At(i int) (float64, bool) {
	j := i - s.Offset
	if j < 0 || j >= len(s.Values) {
		return 0, false
	}
	return s.Values[j], true
}

// LastIndex is the candle index of the final value.
func (s Series) LastIndex() int {
	return s.Offset + len(s.Values) - 1
}

// Snapshot maps indicator names to their value at one candle index.
// Derived data, recomputed per candle; past snapshots are never mutated.
type Snapshot map[string]float64

// SMA computes the arithmetic mean of the last n values for every window
// position that has n values available.
func SMA(values []float64, n int) (Series, error) {
	if n <= 0 {
		return Series{}, fmt.Errorf("sma: invalid period %d", n)
	}
	if len(values) < n {
		return Series{}, models.ErrInsufficientData
	}

	out := make([]float64, 0, len(values)-n+1)
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= n {
			sum -= values[i-n]
		}
		if i >= n-1 {
			out = append(out, sum/float64(n))
		}
	}
	return Series{Offset: n - 1, Values: out}, nil
}

// EMA computes exponential smoothing with factor 2/(n+1), seeded by the
// SMA of the first n values.
func EMA(values []float64, n int) (Series, error) {
	if n <= 0 {
		return Series{}, fmt.Errorf("ema: invalid period %d", n)
	}
	if len(values) < n {
		return Series{}, models.ErrInsufficientData
	}

	k := 2.0 / float64(n+1)
	seed := 0.0
	for _, v := range values[:n] {
		seed += v
	}
	seed /= float64(n)

	out := make([]float64, 0, len(values)-n+1)
	out = append(out, seed)
	prev := seed
	for _, v := range values[n:] {
		prev = (v-prev)*k + prev
		out = append(out, prev)
	}
	return Series{Offset: n - 1, Values: out}, nil
}

// RSI computes Wilder's relative strength index over n periods.
// RSI is 100 when the average loss is zero, and 0 when the average gain
// is zero while the average loss is positive.
func RSI(closes []float64, n int) (Series, error) {
	if n <= 0 {
		return Series{}, fmt.Errorf("rsi: invalid period %d", n)
	}
	if len(closes) < n+1 {
		return Series{}, models.ErrInsufficientData
	}

	var avgGain, avgLoss float64
	for i := 1; i <= n; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss += -delta
		}
	}
	avgGain /= float64(n)
	avgLoss /= float64(n)

	out := make([]float64, 0, len(closes)-n)
	out = append(out, rsiValue(avgGain, avgLoss))

	for i := n + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(n-1) + gain) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + loss) / float64(n)
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return Series{Offset: n, Values: out}, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	if avgGain == 0 {
		return 0
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// BollingerBands computes middle = SMA(n) and bands at k population
// standard deviations. Width is (upper-lower)/middle, used for squeeze
// detection.
func BollingerBands(closes []float64, n int, k float64) (upper, middle, lower, width Series, err error) {
	if n <= 0 {
		err = fmt.Errorf("bbands: invalid period %d", n)
		return
	}
	if len(closes) < n {
		err = models.ErrInsufficientData
		return
	}

	count := len(closes) - n + 1
	up := make([]float64, 0, count)
	mid := make([]float64, 0, count)
	low := make([]float64, 0, count)
	wid := make([]float64, 0, count)

	for i := n - 1; i < len(closes); i++ {
		window := stats.Float64Data(closes[i-n+1 : i+1])
		mean, merr := stats.Mean(window)
		if merr != nil {
			err = fmt.Errorf("bbands: %w", merr)
			return
		}
		sd, serr := stats.StandardDeviationPopulation(window)
		if serr != nil {
			err = fmt.Errorf("bbands: %w", serr)
			return
		}
		u := mean + k*sd
		l := mean - k*sd
		up = append(up, u)
		mid = append(mid, mean)
		low = append(low, l)
		if mean != 0 {
			wid = append(wid, (u-l)/mean)
		} else {
			wid = append(wid, 0)
		}
	}
	offset := n - 1
	upper = Series{Offset: offset, Values: up}
	middle = Series{Offset: offset, Values: mid}
	lower = Series{Offset: offset, Values: low}
	width = Series{Offset: offset, Values: wid}
	return
}

// TrueRange for candle i (i >= 1): max(high-low, |high-prevClose|, |low-prevClose|).
func trueRanges(candles []models.Candle) []float64 {
	tr := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		h, l, pc := candles[i].High, candles[i].Low, candles[i-1].Close
		tr = append(tr, math.Max(h-l, math.Max(math.Abs(h-pc), math.Abs(l-pc))))
	}
	return tr
}

// ATR computes the Wilder-smoothed average true range, seeded by the
// simple mean of the first n true ranges. ATR is always >= 0.
func ATR(candles []models.Candle, n int) (Series, error) {
	if n <= 0 {
		return Series{}, fmt.Errorf("atr: invalid period %d", n)
	}
	if len(candles) < n+1 {
		return Series{}, models.ErrInsufficientData
	}

	tr := trueRanges(candles)
	seed := 0.0
	for _, v := range tr[:n] {
		seed += v
	}
	seed /= float64(n)

	out := make([]float64, 0, len(tr)-n+1)
	out = append(out, seed)
	prev := seed
	for _, v := range tr[n:] {
		prev = (prev*float64(n-1) + v) / float64(n)
		out = append(out, prev)
	}
	return Series{Offset: n, Values: out}, nil
}

// ADX computes the average directional index from Wilder-smoothed +DM/-DM
// and true range. The first value is the mean of the first n DX values,
// aligned to candle index 2n-1.
func ADX(candles []models.Candle, n int) (Series, error) {
	if n <= 0 {
		return Series{}, fmt.Errorf("adx: invalid period %d", n)
	}
	if len(candles) < 2*n {
		return Series{}, models.ErrInsufficientData
	}

	count := len(candles) - 1
	plusDM := make([]float64, count)
	minusDM := make([]float64, count)
	tr := trueRanges(candles)
	for i := 1; i < len(candles); i++ {
		upMove := candles[i].High - candles[i-1].High
		downMove := candles[i-1].Low - candles[i].Low
		if upMove > downMove && upMove > 0 {
			plusDM[i-1] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i-1] = downMove
		}
	}

	// Wilder smoothed sums, seeded over the first n movement values.
	var sTR, sPlus, sMinus float64
	for i := 0; i < n; i++ {
		sTR += tr[i]
		sPlus += plusDM[i]
		sMinus += minusDM[i]
	}

	dx := make([]float64, 0, count-n+1)
	dx = append(dx, dxValue(sPlus, sMinus, sTR))
	for i := n; i < count; i++ {
		sTR = sTR - sTR/float64(n) + tr[i]
		sPlus = sPlus - sPlus/float64(n) + plusDM[i]
		sMinus = sMinus - sMinus/float64(n) + minusDM[i]
		dx = append(dx, dxValue(sPlus, sMinus, sTR))
	}

	// ADX: simple mean of the first n DX values, Wilder smoothing after.
	seed := 0.0
	for _, v := range dx[:n] {
		seed += v
	}
	seed /= float64(n)

	out := make([]float64, 0, len(dx)-n+1)
	out = append(out, seed)
	prev := seed
	for _, v := range dx[n:] {
		prev = (prev*float64(n-1) + v) / float64(n)
		out = append(out, prev)
	}
	return Series{Offset: 2*n - 1, Values: out}, nil
}

func dxValue(sPlus, sMinus, sTR float64) float64 {
	if sTR == 0 {
		return 0
	}
	plusDI := 100 * sPlus / sTR
	minusDI := 100 * sMinus / sTR
	sum := plusDI + minusDI
	if sum == 0 {
		return 0
	}
	return 100 * math.Abs(plusDI-minusDI) / sum
}

// MACD computes the moving average convergence/divergence line
// (EMA(fast) - EMA(slow)), its signal line (EMA over the MACD line) and
// the histogram.
func MACD(closes []float64, fast, slow, signal int) (macd, signalLine, histogram Series, err error) {
	if fast <= 0 || slow <= 0 || signal <= 0 || fast >= slow {
		err = fmt.Errorf("macd: invalid periods fast=%d slow=%d signal=%d", fast, slow, signal)
		return
	}
	emaFast, err := EMA(closes, fast)
	if err != nil {
		return
	}
	emaSlow, err := EMA(closes, slow)
	if err != nil {
		return
	}

	line := make([]float64, 0, len(emaSlow.Values))
	for i := emaSlow.Offset; i <= emaSlow.LastIndex(); i++ {
		f, _ := emaFast.At(i)
		s, _ := emaSlow.At(i)
		line = append(line, f-s)
	}
	macd = Series{Offset: emaSlow.Offset, Values: line}

	sig, err := EMA(line, signal)
	if err != nil {
		return
	}
	signalLine = Series{Offset: macd.Offset + sig.Offset, Values: sig.Values}

	hist := make([]float64, len(signalLine.Values))
	for i := range signalLine.Values {
		m, _ := macd.At(signalLine.Offset + i)
		hist[i] = m - signalLine.Values[i]
	}
	histogram = Series{Offset: signalLine.Offset, Values: hist}
	return
}

// Stochastic computes %K over kPeriod and %D as its SMA over dPeriod.
// A flat window (highest high equals lowest low) yields %K = 50.
func Stochastic(candles []models.Candle, kPeriod, dPeriod int) (k, d Series, err error) {
	if kPeriod <= 0 || dPeriod <= 0 {
		err = fmt.Errorf("stochastic: invalid periods k=%d d=%d", kPeriod, dPeriod)
		return
	}
	if len(candles) < kPeriod+dPeriod-1 {
		err = models.ErrInsufficientData
		return
	}

	kv := make([]float64, 0, len(candles)-kPeriod+1)
	for i := kPeriod - 1; i < len(candles); i++ {
		hh := candles[i-kPeriod+1].High
		ll := candles[i-kPeriod+1].Low
		for _, c := range candles[i-kPeriod+2 : i+1] {
			hh = math.Max(hh, c.High)
			ll = math.Min(ll, c.Low)
		}
		if hh == ll {
			kv = append(kv, 50)
		} else {
			kv = append(kv, 100*(candles[i].Close-ll)/(hh-ll))
		}
	}
	k = Series{Offset: kPeriod - 1, Values: kv}

	ds, err := SMA(kv, dPeriod)
	if err != nil {
		return
	}
	d = Series{Offset: k.Offset + ds.Offset, Values: ds.Values}
	return
}

// Crossover reports whether fast crossed above slow on the last shared
// candle: fast <= slow on the prior candle and strictly greater on the
// current one. A candle where the series are equal is never the cross
// candle itself.
func Crossover(fast, slow Series) bool {
	last := fast.LastIndex()
	if s := slow.LastIndex(); s < last {
		last = s
	}
	fPrev, ok1 := fast.At(last - 1)
	sPrev, ok2 := slow.At(last - 1)
	fCur, ok3 := fast.At(last)
	sCur, ok4 := slow.At(last)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return false
	}
	return fPrev <= sPrev && fCur > sCur
}

// Crossunder reports whether fast crossed strictly below slow on the last
// shared candle.
func Crossunder(fast, slow Series) bool {
	return Crossover(slow, fast)
}
