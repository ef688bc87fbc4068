package cwidget

import (
	"errors"
	"fmt"
	"strconv"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
)

type Input[T any] struct {
	widget.BaseWidget

	labelWidget *widget.Label
	entryWidget *widget.Entry
	errorWidget *widget.Label

	LabelText   string
	Placeholder string

	DefaultValue T

	OnChanged   func(T)
	OnSubmitted func(T)

	Validator func(string) (T, error)
}

func NewIntInput(label, placeholder string, defaultValue int, onChanged func(int)) *Input[int] {
	input := newInput[int](label, placeholder, defaultValue, onChanged)

	input.Validator = func(s string) (res int, err error) {
		if s == "" {
			return input.DefaultValue, nil
		}

		res, err = strconv.Atoi(s)

		if err != nil {
			return input.DefaultValue, errors.New("not an integer")
		}
		if res <= 0 {
			return input.DefaultValue, errors.New("must be positive")
		}

		return
	}

	input.wire(func(v int) string { return fmt.Sprintf("%s: %d", label, v) })

	return input
}

func NewFloatInput(label, placeholder string, defaultValue float64, onChanged func(float64)) *Input[float64] {
	input := newInput[float64](label, placeholder, defaultValue, onChanged)

	input.Validator = func(s string) (res float64, err error) {
		if s == "" {
			return input.DefaultValue, nil
		}

		res, err = strconv.ParseFloat(s, 64)

		if err != nil {
			return input.DefaultValue, errors.New("not a number")
		}
		if res <= 1.0 {
			return input.DefaultValue, errors.New("must be above 1.0")
		}

		return
	}

	input.wire(func(v float64) string { return fmt.Sprintf("%s: %.2f", label, v) })

	return input
}

func newInput[T any](label, placeholder string, defaultValue T, onChanged func(T)) *Input[T] {
	input := &Input[T]{
		LabelText:    label,
		Placeholder:  placeholder,
		OnChanged:    onChanged,
		DefaultValue: defaultValue,
	}

	input.labelWidget = widget.NewLabel(fmt.Sprintf("%s: %v", label, defaultValue))
	input.labelWidget.TextStyle = fyne.TextStyle{Bold: true}

	input.entryWidget = widget.NewEntry()
	input.entryWidget.SetPlaceHolder(placeholder)

	input.errorWidget = widget.NewLabel("")
	input.errorWidget.Hidden = true
	input.errorWidget.TextStyle = fyne.TextStyle{Italic: true}
	input.errorWidget.Importance = widget.DangerImportance

	return input
}

func (item *Input[T]) wire(format func(T) string) {
	item.entryWidget.OnChanged = func(s string) {
		res, err := item.Validator(s)
		item.SetError(err)

		if err == nil {
			item.OnChanged(res)
			item.labelWidget.SetText(format(res))
		}
	}

	item.ExtendBaseWidget(item)
}

func (item *Input[T]) CreateRenderer() fyne.WidgetRenderer {
	c := container.NewVBox(
		item.labelWidget,
		item.entryWidget,
		item.errorWidget,
	)

	return widget.NewSimpleRenderer(c)
}

func (item *Input[T]) SetError(err error) {
	item.errorWidget.Hidden = err == nil
	if err != nil {
		item.errorWidget.SetText(err.Error())
	}
}

func (item *Input[T]) SetText(text string) {
	item.entryWidget.SetText(text)
}
