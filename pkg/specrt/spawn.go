package specrt

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// workerRoleEnv is set in a spawned worker's environment so it can
// recognize it was re-exec'd to run one pipeline stage rather than being
// the top-level invocation that decides how many stages to spawn.
const workerRoleEnv = "SPECPRIV_WORKER_STAGE"

// IsWorkerProcess reports whether the current process was launched by
// SpawnWorkers rather than being the original top-level invocation, and
// if so, which stage index it is responsible for.
func IsWorkerProcess() (stageIndex int, ok bool) {
	v, present := os.LookupEnv(workerRoleEnv)
	if !present {
		return 0, false
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}

	return n, true
}

// SpawnWorkers creates the shared heap and queue segments every stage
// needs (see CreatePipelineResources), then re-execs the current binary
// once per stage, each copy inheriting the parent's environment plus
// workerRoleEnv set to its stage index and the segment names it should
// open rather than create. It returns the spawned *exec.Cmd handles so
// the caller (the committer) can Wait on each and detect an unexpected
// exit, and the created resources so the caller can Close/Unlink them
// once every worker has exited.
func SpawnWorkers(stageCount int, extraEnv []string) ([]*exec.Cmd, []*StageResources, error) {
	resources, err := CreatePipelineResources(stageCount)
	if err != nil {
		return nil, nil, fmt.Errorf("specrt: allocating shared segments: %w", err)
	}

	self, err := os.Executable()
	if err != nil {
		closeAll(resources)

		return nil, nil, fmt.Errorf("specrt: resolving self executable: %w", err)
	}

	segmentEnv := stageEnv(resources)
	cmds := make([]*exec.Cmd, 0, stageCount)

	for stage := 0; stage < stageCount; stage++ {
		cmd := exec.Command(self, os.Args[1:]...)
		cmd.Env = append(append(append(os.Environ(), extraEnv...), segmentEnv...), fmt.Sprintf("%s=%d", workerRoleEnv, stage))
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Stdin = os.Stdin

		if err := cmd.Start(); err != nil {
			for _, started := range cmds {
				_ = started.Process.Kill()
			}

			closeAll(resources)

			return nil, nil, fmt.Errorf("specrt: spawning worker for stage %d: %w", stage, err)
		}

		cmds = append(cmds, cmd)
	}

	return cmds, resources, nil
}

// WaitAll waits for every worker to exit, returning the first non-nil
// error encountered (after waiting on all of them, so a killed worker
// never leaves a zombie behind).
func WaitAll(cmds []*exec.Cmd) error {
	var first error

	for _, cmd := range cmds {
		if err := cmd.Wait(); err != nil && first == nil {
			first = fmt.Errorf("specrt: worker exited with error: %w", err)
		}
	}

	return first
}
