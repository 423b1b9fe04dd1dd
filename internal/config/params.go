package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Имена параметров группы dagman.
const (
	KeySleepTime      = "sleep_time"
	KeyMaxJobsQueued  = "max_jobs_queued"
	KeyMaxJobsSubmit  = "max_jobs_submit"
	KeySubmitWaitTime = "submit_wait_time"
	KeyDrain          = "drain"
	KeyCancel         = "cancel"
)

// Keys — все параметры группы dagman в порядке записи.
var Keys = []string{
	KeySleepTime,
	KeyMaxJobsQueued,
	KeyMaxJobsSubmit,
	KeySubmitWaitTime,
	KeyDrain,
	KeyCancel,
}

// Params — runtime параметры контроллера.
type Params struct {
	// SleepTime — пауза между итерациями, секунды.
	SleepTime int `json:"sleep_time" yaml:"sleep_time"`

	// MaxJobsQueued — максимум job в очереди (0 — без лимита).
	MaxJobsQueued int `json:"max_jobs_queued" yaml:"max_jobs_queued"`

	// MaxJobsSubmit — максимум отправок за итерацию (0 — без лимита).
	MaxJobsSubmit int `json:"max_jobs_submit" yaml:"max_jobs_submit"`

	// SubmitWaitTime — пауза после каждой отправки, секунды.
	SubmitWaitTime int `json:"submit_wait_time" yaml:"submit_wait_time"`

	// Drain — не отправлять новые job, дождаться текущих.
	Drain bool `json:"drain" yaml:"drain"`

	// Cancel — отменить job и записать rescue файл.
	Cancel bool `json:"cancel" yaml:"cancel"`
}

// Defaults возвращает встроенные значения по умолчанию.
func Defaults() Params {
	return Params{
		SleepTime:      120,
		MaxJobsQueued:  500,
		MaxJobsSubmit:  0,
		SubmitWaitTime: 2,
	}
}

// Clamp заменяет отрицательные значения нулём.
func (p Params) Clamp() Params {
	p.SleepTime = max(p.SleepTime, 0)
	p.MaxJobsQueued = max(p.MaxJobsQueued, 0)
	p.MaxJobsSubmit = max(p.MaxJobsSubmit, 0)
	p.SubmitWaitTime = max(p.SubmitWaitTime, 0)
	return p
}

// Get возвращает значение параметра по имени.
func (p Params) Get(key string) (any, error) {
	switch key {
	case KeySleepTime:
		return p.SleepTime, nil
	case KeyMaxJobsQueued:
		return p.MaxJobsQueued, nil
	case KeyMaxJobsSubmit:
		return p.MaxJobsSubmit, nil
	case KeySubmitWaitTime:
		return p.SubmitWaitTime, nil
	case KeyDrain:
		return p.Drain, nil
	case KeyCancel:
		return p.Cancel, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
}

// Set возвращает копию с изменённым параметром. value разбирается
// как целое или как логическое значение (yes/no, true/false, on/off, 1/0).
func (p Params) Set(key, value string) (Params, error) {
	var o Overrides
	if err := o.set(key, value); err != nil {
		return p, err
	}
	return o.Apply(p), nil
}

// Change — изменение одного параметра.
type Change struct {
	Key string
	Old any
	New any
}

// Changes перечисляет параметры, которые отличаются в next.
func (p Params) Changes(next Params) []Change {
	var changes []Change
	for _, key := range Keys {
		old, _ := p.Get(key)
		cur, _ := next.Get(key)
		if old != cur {
			changes = append(changes, Change{Key: key, Old: old, New: cur})
		}
	}
	return changes
}

// Overrides — частично заданные параметры (nil — не задан).
type Overrides struct {
	SleepTime      *int
	MaxJobsQueued  *int
	MaxJobsSubmit  *int
	SubmitWaitTime *int
	Drain          *bool
	Cancel         *bool
}

// Empty проверяет, что ни один параметр не задан.
func (o Overrides) Empty() bool {
	return o == Overrides{}
}

// Apply накладывает заданные параметры на p и обрезает отрицательные.
func (o Overrides) Apply(p Params) Params {
	if o.SleepTime != nil {
		p.SleepTime = *o.SleepTime
	}
	if o.MaxJobsQueued != nil {
		p.MaxJobsQueued = *o.MaxJobsQueued
	}
	if o.MaxJobsSubmit != nil {
		p.MaxJobsSubmit = *o.MaxJobsSubmit
	}
	if o.SubmitWaitTime != nil {
		p.SubmitWaitTime = *o.SubmitWaitTime
	}
	if o.Drain != nil {
		p.Drain = *o.Drain
	}
	if o.Cancel != nil {
		p.Cancel = *o.Cancel
	}
	return p.Clamp()
}

// missing возвращает незаданные параметры.
func (o Overrides) missing() []string {
	var keys []string
	if o.SleepTime == nil {
		keys = append(keys, KeySleepTime)
	}
	if o.MaxJobsQueued == nil {
		keys = append(keys, KeyMaxJobsQueued)
	}
	if o.MaxJobsSubmit == nil {
		keys = append(keys, KeyMaxJobsSubmit)
	}
	if o.SubmitWaitTime == nil {
		keys = append(keys, KeySubmitWaitTime)
	}
	if o.Drain == nil {
		keys = append(keys, KeyDrain)
	}
	if o.Cancel == nil {
		keys = append(keys, KeyCancel)
	}
	return keys
}

func (o *Overrides) set(key, value string) error {
	switch key {
	case KeySleepTime, KeyMaxJobsQueued, KeyMaxJobsSubmit, KeySubmitWaitTime:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s: expected an integer, got %q", key, value)
		}
		switch key {
		case KeySleepTime:
			o.SleepTime = &n
		case KeyMaxJobsQueued:
			o.MaxJobsQueued = &n
		case KeyMaxJobsSubmit:
			o.MaxJobsSubmit = &n
		case KeySubmitWaitTime:
			o.SubmitWaitTime = &n
		}
	case KeyDrain, KeyCancel:
		b, err := ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if key == KeyDrain {
			o.Drain = &b
		} else {
			o.Cancel = &b
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}

// ParseBool разбирает логическое значение в стиле ini файлов.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "yes", "true", "on":
		return true, nil
	case "0", "no", "false", "off":
		return false, nil
	}
	return false, fmt.Errorf("expected a boolean, got %q", value)
}
