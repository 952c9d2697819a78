// Package linebot controls a line following robot that turns by relabelling
// its wheels instead of rotating its chassis.
//
// A sensor array on a sweeping servo measures how far the robot is off the
// painted line, a PID controller turns that into a correction duty, and a
// reorientable drive maps logical moves onto four motors whose roles are
// permuted on every turn.
//
// # Installation
//
//	go install github.com/gwillem/linebot/cmd/linebot@latest
//
// # Usage
//
// First, run setup to find the I/O board and calibrate the sensor mount:
//
//	linebot setup
//
// Check the sensors, then follow the configured route:
//
//	linebot probe
//	linebot run
//
// Without hardware, both commands accept --sim.
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/linebot: CLI with setup, run and probe commands
//   - pkg/hw: hardware boundary interfaces and a recording fake
//   - pkg/line: weighted line sensor array and its classification
//   - pkg/pid: heading controllers
//   - pkg/drive: reorientable four-motor drive for orthogonal and mecanum chassis
//   - pkg/follow: control loop and route runner
//   - pkg/robot: configuration, mount calibration and hardware assembly
//   - pkg/board, pkg/raspi: serial I/O board and Raspberry Pi backends
//   - pkg/sim: simulated arena
//   - pkg/telemetry: websocket event stream
package linebot
