// Command accounts operates the account data layer: it runs the background
// jobs and metrics endpoint (serve), applies schema migrations, and exposes
// operator commands for users, API keys and projects.
package main

func main() {
	Execute()
}
