// Copyright 2016 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux
// +build !linux

package main

import "context"

func watchFile(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
