// Package pcm provides types and utilities for working with float32 PCM
// audio as delivered by capture devices and consumed by speech models.
//
// Samples are interleaved frames normalised to [-1, 1].
//
// Key types and helpers:
//   - Format: sample rate and channel count of a sample slice
//   - MergeChannels: averages interleaved channels into mono
//   - Int16ToFloat32 / Float32ToInt16: conversion from and to 16-bit PCM
//
// Example usage:
//
//	f := pcm.Format{SampleRate: 48000, Channels: 2}
//	mono := pcm.MergeChannels(samples, f.Channels)
//	d := f.Mono().Duration(len(mono))
package pcm
