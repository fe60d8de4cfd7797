package comfy

import (
	"sort"
	"strconv"
	"strings"
)

// Artifact ranking. Image-to-image graphs list the uploaded source in
// history alongside the real result; picking naively returns the input
// back to the user. Rank by the producing node's class, then the folder
// the server filed the image under, then the node id.

type candidate struct {
	ref     imageRef
	class   int
	folder  int
	nodeNum int
}

// selectArtifacts orders history outputs best first and drops raw inputs
// whenever anything better exists.
func selectArtifacts(outputs map[string]nodeOutput, graph map[string]any) []imageRef {
	var cands []candidate
	hasNonInput := false
	for nodeID, out := range outputs {
		for _, img := range out.Images {
			cands = append(cands, candidate{
				ref:     img,
				class:   classScore(nodeClass(graph, nodeID)),
				folder:  folderScore(img.Type),
				nodeNum: numericID(nodeID),
			})
			if img.Type != "input" {
				hasNonInput = true
			}
		}
	}

	if hasNonInput {
		kept := cands[:0]
		for _, c := range cands {
			if c.ref.Type != "input" {
				kept = append(kept, c)
			}
		}
		cands = kept
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].class != cands[j].class {
			return cands[i].class > cands[j].class
		}
		if cands[i].folder != cands[j].folder {
			return cands[i].folder > cands[j].folder
		}
		return cands[i].nodeNum > cands[j].nodeNum
	})

	refs := make([]imageRef, 0, len(cands))
	for _, c := range cands {
		refs = append(refs, c.ref)
	}
	return refs
}

func nodeClass(graph map[string]any, nodeID string) string {
	if graph == nil {
		return ""
	}
	node, ok := graph[nodeID].(map[string]any)
	if !ok {
		return ""
	}
	class, _ := node["class_type"].(string)
	return class
}

func classScore(class string) int {
	switch {
	case class == "SaveImage":
		return 100
	case class == "PreviewImage":
		return 90
	case strings.HasPrefix(class, "VAEDecode"):
		return 80
	case class == "LoadImage":
		return 0
	default:
		// Unknown class, or no graph to consult.
		return 50
	}
}

func folderScore(folderType string) int {
	switch folderType {
	case "output":
		return 3
	case "temp":
		return 2
	case "input":
		return 1
	default:
		return 0
	}
}

func numericID(id string) int {
	n, err := strconv.Atoi(id)
	if err != nil {
		return -1
	}
	return n
}
