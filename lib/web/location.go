/*
Copyright 2025 VISIBLE

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package web

import (
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/imrandevop/VISIBLE-sub000/lib/presence"
)

// locationSocket serves /ws/location/{provider|seeker}/, the discovery
// channel. Providers toggle availability on it, seekers search on it and
// receive membership edges as providers come and go.
func (h *Handler) locationSocket(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	h.serveSocket(w, r, p, channelLocation, h.dispatchLocation)
}

func (h *Handler) dispatchLocation(c *wsConn, frame inboundFrame) error {
	switch f := frame.(type) {
	case *providerStatusFrame:
		_, err := h.cfg.Presence.SetProviderActive(c.closeContext, c.user, f.update())
		return trace.Wrap(err)

	case *seekerSearchFrame:
		providers, err := h.cfg.Presence.SetSeekerSearch(c.closeContext, c.user, f.update())
		if err != nil {
			return trace.Wrap(err)
		}
		c.sendReply(&providersFrame{
			Type:      frameNearbyProviders,
			Providers: nonNilProviders(providers),
		})
		return nil

	case *radiusFrame:
		// A radius change is a search refresh with the new bounds.
		providers, err := h.cfg.Presence.SetSeekerSearch(c.closeContext, c.user, presence.SeekerUpdate{
			Searching:  true,
			Lat:        *f.Lat,
			Lng:        *f.Lng,
			CatCode:    f.CatCode,
			SubCatCode: f.SubCatCode,
			RadiusKm:   *f.RadiusKm,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		c.sendReply(&providersFrame{
			Type:      frameRadiusUpdated,
			Providers: nonNilProviders(providers),
		})
		return nil

	default:
		return trace.BadParameter("frame %q is not accepted on the location channel", frame.frameType())
	}
}

func nonNilProviders(providers []presence.NearbyProvider) []presence.NearbyProvider {
	if providers == nil {
		return []presence.NearbyProvider{}
	}
	return providers
}
