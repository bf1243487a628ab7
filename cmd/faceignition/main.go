// Command faceignition runs the face-gated vehicle start controller and its
// dashboard.
package main

func main() {
	Execute()
}
