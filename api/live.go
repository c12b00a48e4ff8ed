package api

import (
	"html/template"
	"net/http"
)

// liveViewTemplate is the embeddable task monitor: it polls the status
// endpoint, renders recorded steps, and exposes pause/resume/stop controls.
var liveViewTemplate = template.Must(template.New("live").Parse(`<!DOCTYPE html>
<html>
<head>
    <title>Browser Task {{.TaskID}}</title>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; }
        .container { max-width: 1200px; margin: 0 auto; }
        .status { padding: 10px; border-radius: 4px; margin-bottom: 20px; }
        .running { background-color: #e3f2fd; }
        .finished { background-color: #e8f5e9; }
        .failed { background-color: #ffebee; }
        .paused { background-color: #fff8e1; }
        .stopped { background-color: #eeeeee; }
        .created { background-color: #f3e5f5; }
        .stopping { background-color: #fce4ec; }
        .controls { margin-bottom: 20px; }
        button { padding: 8px 16px; margin-right: 10px; cursor: pointer; }
        pre { background-color: #f5f5f5; padding: 15px; border-radius: 4px; overflow: auto; }
        .step { margin-bottom: 10px; padding: 10px; border: 1px solid #ddd; border-radius: 4px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Browser Task</h1>
        <div id="status" class="status">Loading...</div>

        <div class="controls">
            <button id="pauseBtn">Pause</button>
            <button id="resumeBtn">Resume</button>
            <button id="stopBtn">Stop</button>
        </div>

        <h2>Result</h2>
        <pre id="result">Loading...</pre>

        <h2>Steps</h2>
        <div id="steps">Loading...</div>

        <script>
            const taskId = {{.TaskID}};
            const userId = {{.UserID}};
            const terminal = ['finished', 'failed', 'stopped'];

            const headers = {};
            if (userId && userId !== 'default') {
                headers['X-User-ID'] = userId;
            }

            function updateStatus() {
                fetch('/api/v1/task/' + taskId + '/status', { headers })
                    .then(response => response.json())
                    .then(data => {
                        const statusEl = document.getElementById('status');
                        statusEl.textContent = 'Status: ' + data.status;
                        statusEl.className = 'status ' + data.status;

                        if (data.result) {
                            document.getElementById('result').textContent = data.result;
                        } else if (data.error) {
                            document.getElementById('result').textContent = 'Error: ' + data.error;
                        }

                        if (!terminal.includes(data.status)) {
                            setTimeout(updateStatus, 2000);
                        }
                    })
                    .catch(error => {
                        console.error('Error fetching status:', error);
                        setTimeout(updateStatus, 5000);
                    });

                fetch('/api/v1/task/' + taskId, { headers })
                    .then(response => response.json())
                    .then(data => {
                        if (data.steps && data.steps.length > 0) {
                            document.getElementById('steps').innerHTML = data.steps.map(step =>
                                '<div class="step"><strong>Step ' + step.step + '</strong>' +
                                '<p>Next Goal: ' + (step.next_goal || 'N/A') + '</p>' +
                                '<p>Evaluation: ' + (step.evaluation_previous_goal || 'N/A') + '</p></div>'
                            ).join('');
                        } else {
                            document.getElementById('steps').textContent = 'No steps recorded yet.';
                        }
                    })
                    .catch(error => console.error('Error fetching task details:', error));
            }

            function control(action) {
                fetch('/api/v1/' + action + '-task/' + taskId, { method: 'PUT', headers })
                    .then(response => response.json())
                    .then(data => alert(data.message))
                    .catch(error => console.error('Error on ' + action + ':', error));
            }

            document.getElementById('pauseBtn').addEventListener('click', () => control('pause'));
            document.getElementById('resumeBtn').addEventListener('click', () => control('resume'));
            document.getElementById('stopBtn').addEventListener('click', () => {
                if (confirm('Are you sure you want to stop this task? This action cannot be undone.')) {
                    control('stop');
                }
            });

            updateStatus();
            setInterval(updateStatus, 5000);
        </script>
    </div>
</body>
</html>
`))

func (s *Server) handleLiveView(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	uid := owner(r)

	if !s.store.Exists(taskID, uid) {
		notFound(w)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	liveViewTemplate.Execute(w, map[string]string{
		"TaskID": taskID,
		"UserID": uid,
	})
}
