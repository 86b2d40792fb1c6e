// Copyright 2015 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package lepton

import (
	"image"
)

// Frame is a rendered Flir Lepton frame.
//
// The embedded image is the colorized frame at the native resolution. Raw
// holds the samples at the same coordinates; values are 14 bits, centered
// around 8192 according to camera body temperature unless radiometry is
// enabled.
//
// A Frame is a copy; the receiver owns it.
type Frame struct {
	*image.RGBA
	Raw    *image.Gray16
	Window Window // Effective scaling window used to render this frame.
	Seq    uint64 // Frame number since the loop started, starting at 1.
	Stale  []int  // Segments not refreshed since the previous frame.
}
