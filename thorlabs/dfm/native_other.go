//go:build !(windows && amd64)

package dfm

// Native is unavailable on this platform
type Native struct{}

// OpenNative always fails off windows/amd64; the vendor ships no other build
func OpenNative(basePath, extPath string) (*Native, error) {
	return nil, ErrUnsupportedPlatform
}

// DeviceCount satisfies Driver
func (n *Native) DeviceCount() (int, error) {
	return 0, ErrUnsupportedPlatform
}

// DeviceInfo satisfies Driver
func (n *Native) DeviceInfo(int) (DeviceInfo, error) {
	return DeviceInfo{}, ErrUnsupportedPlatform
}

// Connect satisfies Driver
func (n *Native) Connect(string, bool, bool) (Session, error) {
	return nil, ErrUnsupportedPlatform
}

var _ Driver = (*Native)(nil)
