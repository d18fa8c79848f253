package main

import (
	"github.com/companyzero/coachmedia/devices"
	"github.com/companyzero/coachmedia/playback"
	"github.com/companyzero/coachmedia/transcript"
)

type msgInventory devices.InventoryState

type msgSessionChanged struct{}

type msgSessionStarted struct {
	err error
}

type msgLevel float64

type msgPlayback playback.State

type msgScrollTo int

type msgReviewLoaded struct {
	ref           string
	entries       []transcript.Entry
	transcriptErr error
	err           error
}

type msgClipPlayed struct {
	err error
}

type msgClipExported struct {
	path string
	err  error
}

type msgDevicesRefreshed struct{}

type msgErrorLog string
