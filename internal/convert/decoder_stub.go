//go:build !govips || !cgo

package convert

func Startup() error {
	return nil
}

func Shutdown() {}

func newBridgeDecoder() bridgeDecoder {
	return nil
}
