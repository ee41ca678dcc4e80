package script

import "github.com/torosent/multimech/internal/runner"

func runnerEnv() runner.WorkerEnv {
	return runner.WorkerEnv{
		Group:          "g",
		ProcessNum:     2,
		ThreadNum:      3,
		GroupSettings:  map[string]string{"url": "http://x"},
		GlobalSettings: map[string]string{"run_time": "10"},
	}
}
