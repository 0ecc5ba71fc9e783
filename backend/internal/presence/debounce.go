package presence

import "time"

// Debounce 抑制高频的本地 typing 信号：同一 scope 在窗口期内
// 只放行一次发送。这只管“发不发”，Tracker 那边不受影响。
type Debounce struct {
	window time.Duration
	last   map[string]time.Time
	now    func() time.Time
}

// 默认窗口 500ms
const DefaultTypingWindow = 500 * time.Millisecond

func NewDebounce(window time.Duration) *Debounce {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &Debounce{window: window, last: make(map[string]time.Time), now: time.Now}
}

// ShouldSend 判断此刻是否应该对 scope 发送信号；
// 放行时顺带记录本次发送时间。
func (d *Debounce) ShouldSend(scope string) bool {
	now := d.now()
	if sent, ok := d.last[scope]; ok && now.Sub(sent) < d.window {
		return false
	}
	d.last[scope] = now
	return true
}

// Reset 清掉 scope 的发送记录（显式 stop 之后，下一次 typing 立即放行）。
func (d *Debounce) Reset(scope string) {
	delete(d.last, scope)
}
