// Package testutil holds helpers shared by the package tests: a capturing
// logger and on-disk fixtures for configuration and dotenv files.
package testutil
