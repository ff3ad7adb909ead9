// Package testing provides the conformance suite every store.Store engine must pass.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//		storetesting.RunStoreTests(t, "mystore", func(t *testing.T) store.Store {
//			return mystore.New()
//		})
//	}
package testing
