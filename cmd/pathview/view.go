package main

import (
	"fmt"
	"math"

	"github.com/gdamore/tcell/v2"

	"voxelpath.ai/internal/sim/runner"
	"voxelpath.ai/internal/sim/voxel"
)

// canvas is the part of tcell.Screen the renderer draws on.
type canvas interface {
	SetContent(x, y int, primary rune, combining []rune, style tcell.Style)
	Size() (int, int)
}

var (
	styleFloor  = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleSolid  = tcell.StyleDefault.Foreground(tcell.ColorWhite)
	styleWater  = tcell.StyleDefault.Foreground(tcell.ColorBlue)
	styleLava   = tcell.StyleDefault.Foreground(tcell.ColorRed)
	styleClimb  = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleDoor   = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	stylePath   = tcell.StyleDefault.Foreground(tcell.ColorTeal)
	styleNext   = tcell.StyleDefault.Foreground(tcell.ColorAqua).Bold(true)
	styleFocus  = tcell.StyleDefault.Foreground(tcell.ColorFuchsia).Bold(true)
	styleAgent  = tcell.StyleDefault.Foreground(tcell.ColorPurple)
	styleEntity = tcell.StyleDefault.Foreground(tcell.ColorOrange)
	styleStatus = tcell.StyleDefault.Reverse(true)
)

// view is a top-down slice of the world at one layer, centered on the
// focused agent.
type view struct {
	focus  int
	offset int // layer relative to the focused agent's feet
	paused bool
}

func glyph(b, below voxel.Block) (rune, tcell.Style) {
	switch {
	case b.Door && b.DoorOpen:
		return '/', styleDoor
	case b.Door:
		return '+', styleDoor
	case b.Fluid == voxel.FluidWater:
		return '~', styleWater
	case b.Fluid == voxel.FluidLava:
		return '~', styleLava
	case b.Climbable:
		return 'H', styleClimb
	case b.MaxY > b.MinY && b.MaxY-b.MinY < 1:
		if b.MinY > 0 {
			return '▀', styleSolid
		}
		return '▄', styleSolid
	case b.HasCollision():
		return '#', styleSolid
	case below.HasCollision() || below.Climbable:
		return '.', styleFloor
	case below.Fluid != voxel.FluidNone:
		return ',', styleWater
	default:
		return ' ', tcell.StyleDefault
	}
}

func (v *view) layer(snap runner.TickSnapshot) (center voxel.Cell, ok bool) {
	if len(snap.Agents) == 0 {
		return voxel.Cell{}, false
	}
	if v.focus >= len(snap.Agents) {
		v.focus = 0
	}
	c := voxel.CellOf(snap.Agents[v.focus].Pos)
	c.Y += v.offset
	return c, true
}

// draw renders the status line and the map. Row 0 is the status line; map
// rows grow with z and columns with x.
func (v *view) draw(scr canvas, world voxel.BlockSource, snap runner.TickSnapshot) {
	w, h := scr.Size()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			scr.SetContent(x, y, ' ', nil, tcell.StyleDefault)
		}
	}
	center, ok := v.layer(snap)
	if !ok {
		drawText(scr, 0, 0, styleStatus, fmt.Sprintf("tick %d  no agents", snap.Tick))
		return
	}
	mapH := h - 1
	x0 := center.X - w/2
	z0 := center.Z - mapH/2
	toScreen := func(c voxel.Cell) (int, int, bool) {
		sx, sy := c.X-x0, c.Z-z0+1
		return sx, sy, sx >= 0 && sx < w && sy >= 1 && sy < h
	}

	for sy := 1; sy < h; sy++ {
		for sx := 0; sx < w; sx++ {
			c := voxel.Cell{X: x0 + sx, Y: center.Y, Z: z0 + sy - 1}
			r, st := glyph(world.BlockAt(c), world.BlockAt(c.Up(-1)))
			scr.SetContent(sx, sy, r, nil, st)
		}
	}

	a := snap.Agents[v.focus]
	for i, wp := range a.Waypoints {
		if i < a.NextIndex {
			continue
		}
		if sx, sy, ok := toScreen(wp); ok {
			if i == a.NextIndex {
				scr.SetContent(sx, sy, '*', nil, styleNext)
			} else {
				scr.SetContent(sx, sy, '·', nil, stylePath)
			}
		}
	}
	for _, e := range snap.Entities {
		if sx, sy, ok := toScreen(voxel.CellOf(e.Pos)); ok {
			scr.SetContent(sx, sy, 'E', nil, styleEntity)
		}
	}
	for i, other := range snap.Agents {
		sx, sy, ok := toScreen(voxel.CellOf(other.Pos))
		if !ok {
			continue
		}
		if i == v.focus {
			scr.SetContent(sx, sy, '@', nil, styleFocus)
		} else {
			scr.SetContent(sx, sy, 'a', nil, styleAgent)
		}
	}

	status := fmt.Sprintf("tick %d  %s %c %s  y=%d  %s", snap.Tick, a.ID, yawArrow(a.Yaw), a.State, center.Y, a.Goal)
	if a.Movement != "" {
		status += "  " + a.Movement
	}
	if a.Err != "" {
		status += "  err=" + a.Err
	}
	if v.paused {
		status += "  [paused]"
	}
	drawText(scr, 0, 0, styleStatus, status)
}

func drawText(scr canvas, x, y int, st tcell.Style, s string) {
	w, _ := scr.Size()
	for _, r := range s {
		if x >= w {
			return
		}
		scr.SetContent(x, y, r, nil, st)
		x++
	}
}

// yawArrow maps a facing to one of eight screen arrows (x right, z down).
func yawArrow(yaw float64) rune {
	arrows := []rune{'→', '↘', '↓', '↙', '←', '↖', '↑', '↗'}
	i := int(math.Round(yaw/(math.Pi/4))) % 8
	if i < 0 {
		i += 8
	}
	return arrows[i]
}
