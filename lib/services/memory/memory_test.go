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

package memory

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/imrandevop/VISIBLE-sub000/lib/services"
	"github.com/imrandevop/VISIBLE-sub000/lib/services/suite"
)

func TestMemoryStore(t *testing.T) {
	suite.Run(t, func(t *testing.T) services.Store {
		store, err := New(Config{Clock: clockwork.NewFakeClock()})
		require.NoError(t, err)
		return store
	})
}
