package factory

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jdgilhuly/visitvideo/pkg/video"
	"github.com/jdgilhuly/visitvideo/pkg/video/daily"
	"github.com/jdgilhuly/visitvideo/pkg/video/googlemeet"
	"github.com/jdgilhuly/visitvideo/pkg/video/livekit"
	"github.com/jdgilhuly/visitvideo/pkg/video/twilio"
)

// Kind names a supported conferencing backend.
type Kind string

const (
	KindTwilio     Kind = twilio.Name
	KindDaily      Kind = daily.Name
	KindGoogleMeet Kind = googlemeet.Name
	KindLiveKit    Kind = livekit.Name
)

// DefaultKind is used when neither the caller nor the environment names a
// provider.
const DefaultKind = KindTwilio

// Kinds returns every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindTwilio, KindDaily, KindGoogleMeet, KindLiveKit}
}

// ParseKind resolves a provider name, ignoring case and surrounding space.
// Unknown names fail with an unsupported-provider error.
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", video.NewUnsupportedProviderError(name)
}

func (k Kind) String() string { return string(k) }

// Constructor builds an uninitialized provider.
type Constructor func(logger *logrus.Logger) video.Provider

// DefaultConstructors returns the registration table for all built-in
// adapters.
func DefaultConstructors() map[Kind]Constructor {
	return map[Kind]Constructor{
		KindTwilio:     func(l *logrus.Logger) video.Provider { return twilio.New(l) },
		KindDaily:      func(l *logrus.Logger) video.Provider { return daily.New(l) },
		KindGoogleMeet: func(l *logrus.Logger) video.Provider { return googlemeet.New(l) },
		KindLiveKit:    func(l *logrus.Logger) video.Provider { return livekit.New(l) },
	}
}

func unsupported(k Kind) error {
	return video.NewUnsupportedProviderError(fmt.Sprint(k))
}
