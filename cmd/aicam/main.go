// Command aicam runs object detection on a camera stream and records what it sees.
package main

func main() {
	Execute()
}
