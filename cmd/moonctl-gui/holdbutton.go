package main

import (
	"image/color"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/driver/mobile"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
)

// holdButton reports press and release separately, unlike widget.Button
// which only reports a completed tap.
type holdButton struct {
	widget.BaseWidget

	Text      string
	OnPressed func()
	OnRelease func()

	held bool

	background *canvas.Rectangle
	label      *canvas.Text
}

var (
	_ desktop.Mouseable = (*holdButton)(nil)
	_ mobile.Touchable  = (*holdButton)(nil)
)

func newHoldButton(text string, onPressed, onRelease func()) *holdButton {
	b := &holdButton{Text: text, OnPressed: onPressed, OnRelease: onRelease}
	b.ExtendBaseWidget(b)
	return b
}

func (b *holdButton) CreateRenderer() fyne.WidgetRenderer {
	b.background = canvas.NewRectangle(theme.Color(theme.ColorNameButton))
	b.background.CornerRadius = theme.InputRadiusSize()
	b.background.SetMinSize(fyne.NewSize(200, 120))

	b.label = canvas.NewText(b.Text, theme.Color(theme.ColorNameForeground))
	b.label.TextStyle.Bold = true
	b.label.TextSize = 24
	b.label.Alignment = fyne.TextAlignCenter

	return widget.NewSimpleRenderer(container.NewStack(b.background, container.NewCenter(b.label)))
}

func (b *holdButton) down() {
	if b.held {
		return
	}
	b.held = true
	b.paint(theme.Color(theme.ColorNamePrimary))
	if b.OnPressed != nil {
		b.OnPressed()
	}
}

func (b *holdButton) up() {
	if !b.held {
		return
	}
	b.held = false
	b.paint(theme.Color(theme.ColorNameButton))
	if b.OnRelease != nil {
		b.OnRelease()
	}
}

// Cancel releases the button if it is held, as if the pointer had been lifted.
func (b *holdButton) Cancel() { b.up() }

func (b *holdButton) paint(c color.Color) {
	if b.background == nil {
		return
	}
	b.background.FillColor = c
	b.background.Refresh()
}

func (b *holdButton) MouseDown(e *desktop.MouseEvent) {
	if e.Button == desktop.MouseButtonPrimary {
		b.down()
	}
}

func (b *holdButton) MouseUp(e *desktop.MouseEvent) {
	if e.Button == desktop.MouseButtonPrimary {
		b.up()
	}
}

func (b *holdButton) TouchDown(*mobile.TouchEvent)   { b.down() }
func (b *holdButton) TouchUp(*mobile.TouchEvent)     { b.up() }
func (b *holdButton) TouchCancel(*mobile.TouchEvent) { b.up() }
