package data

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"github.com/pkg/errors"
)

// castClusters is how many water-cast groups the color labeler forms.
const castClusters = 3

// filenameLabels takes the token before the first underscore of each
// stem, so scene_0001.png and scene_0002.png share a label.
func filenameLabels(names []string) []string {
	labels := make([]string, len(names))
	for i, n := range names {
		stem := strings.TrimSuffix(n, filepath.Ext(n))
		if tok, _, ok := strings.Cut(stem, "_"); ok {
			stem = tok
		}
		labels[i] = strings.ToLower(stem)
	}
	return labels
}

// colorLabels clusters each input's dominant color in Lab space and
// labels pairs by cluster, so greenish, bluish and near-neutral scenes
// end up in separate groups for the sampler.
func colorLabels(paths []string) ([]string, error) {
	obs := make(clusters.Observations, 0, len(paths))
	for _, p := range paths {
		img, err := decodeImage(p)
		if err != nil {
			return nil, err
		}
		col, ok := colorful.MakeColor(dominantcolor.Find(img))
		if !ok {
			col = colorful.Color{}
		}
		l, a, b := col.Clamped().Lab()
		obs = append(obs, clusters.Coordinates{l, a, b})
	}

	labels := make([]string, len(paths))
	k := castClusters
	if k > len(obs) {
		k = len(obs)
	}
	if k < 2 {
		for i := range labels {
			labels[i] = "water0"
		}
		return labels, nil
	}

	km := kmeans.New()
	cc, err := km.Partition(obs, k)
	if err != nil {
		return nil, errors.Wrap(err, "data: cluster water casts")
	}
	for i, o := range obs {
		labels[i] = fmt.Sprintf("water%d", cc.Nearest(o))
	}
	return labels, nil
}
