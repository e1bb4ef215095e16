// Package testing provides a conformance suite for backend.Provider
// implementations. Every engine runs it from its own tests:
//
//	func TestProvider(t *testing.T) {
//		backendtesting.RunBackendStoreTests(t, "memory", factory)
//	}
package testing
