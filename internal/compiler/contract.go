package compiler

import (
	"github.com/slok/taskforge/internal/model"
)

// ArtifactContract is appended verbatim to every execution prompt.
const ArtifactContract = "You MUST return every file that documents how the deliverables were produced:\n" +
	"\n" +
	"1. `" + model.ScriptFilename + "`: exactly one standalone Python script that reproduces every deliverable when run " +
	"with `python " + model.ScriptFilename + "` from the directory holding the returned files. It reads the preserved " +
	"inputs, writes the outputs and comments the key steps inline.\n" +
	"2. Preserved inputs: every input file copied byte for byte as `" + model.InputPrefix + "<original name>`.\n" +
	"3. Outputs: every deliverable named `<name>" + model.OutputSuffix + ".<ext>` or `<name>" + model.CleanedSuffix +
	".<ext>`, unless Deliverables pins a file name.\n" +
	"4. Raw intermediates: data fetched from external sources saved as `" + model.RawPrefix + "<name>.json`.\n" +
	"\n" +
	"The client must be able to re-run the script to reproduce the results and audit how every output was generated."
