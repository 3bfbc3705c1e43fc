/*
Package initrun executes a volume's one-time initialization scripts.

After a service bound to a freshly created volume reports ready, the
runner executes each associated init script in declared order. The
contract is exactly-once, ordered, and resumable:

  - Each script's completion is recorded durably inside the volume
    (.stackd/init/<name>.done) before the next script starts.
  - A crash mid-sequence resumes from the first unrecorded script on the
    next orchestration; completed scripts are never re-run.
  - If every declared script carries a marker, Run is a no-op.
  - A failed script is a ScriptError, fatal to the owning service; its
    marker is not written, so the next run retries it and everything
    after it.

Markers share the volume's lifetime: explicit volume teardown removes them
along with the data, which is what makes a recreated volume fresh again.
*/
package initrun
