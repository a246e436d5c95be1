// Package hardware provides access to the physical stream switch: digital inputs
// (buttons) that are polled and digital outputs (LEDs) that mirror the stream state.
package hardware
