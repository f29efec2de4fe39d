package watch

import (
	"strings"
	"time"
)

const activityDots = 5

// Activity lights up when an event arrives and fades over ten seconds.
type Activity struct {
	dots      int
	lastEvent time.Time
	now       func() time.Time
}

func NewActivity() Activity {
	return Activity{now: time.Now}
}

func (a *Activity) OnEvent() {
	a.dots = activityDots
	a.lastEvent = a.now()
}

// Decay drops one dot for every two seconds of silence.
func (a *Activity) Decay() {
	if a.dots == 0 {
		return
	}
	elapsed := a.now().Sub(a.lastEvent)
	a.dots = activityDots - int(elapsed/(2*time.Second))
	if a.dots < 0 {
		a.dots = 0
	}
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range activityDots {
		if i < a.dots {
			b.WriteString(theme.ActivityOn.Render("●"))
		} else {
			b.WriteString(theme.ActivityOff.Render("○"))
		}
	}
	return b.String()
}

func (a Activity) LastEvent() time.Time {
	return a.lastEvent
}
