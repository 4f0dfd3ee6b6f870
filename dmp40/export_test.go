package dmp40

// Pause exposes pause to the external tests
var Pause = pause
